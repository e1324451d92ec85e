package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one operator-facing notification
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Sink delivers alerts to one channel
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans one alert out to every configured sink. Fatal trading
// conditions are never silent: the manager is a required collaborator of
// the scheduler and the trading agent.
type Manager struct {
	sinks []Sink
}

// NewManager creates an alert manager
func NewManager(sinks ...Sink) *Manager {
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink()}
	}
	return &Manager{sinks: sinks}
}

// Send delivers the alert to all sinks; delivery failures are logged and
// the last one is returned.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			log.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// SendCritical sends a critical alert
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityCritical, Metadata: metadata})
}

// SendWarning sends a warning alert
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityWarning, Metadata: metadata})
}

// SendInfo sends an informational alert
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityInfo, Metadata: metadata})
}

// LogSink writes alerts through the structured logger
type LogSink struct{}

// NewLogSink creates a log-backed sink
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Send logs the alert at a level matching its severity
func (l *LogSink) Send(ctx context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg("ALERT: " + alert.Message)
	return nil
}

// Domain helpers. These name the fatal conditions the error policy says
// must always surface.

// SafeMode reports the model being unreachable while trading continues
// with fallback holds.
func (m *Manager) SafeMode(ctx context.Context, err error) {
	m.SendCritical(ctx, "Safe Mode", fmt.Sprintf(
		"Model unreachable, trading degraded to fallback holds: %v", err,
	), map[string]interface{}{"error": err.Error()})
}

// TradingHalted reports a fatal broker condition that stopped order flow
func (m *Manager) TradingHalted(ctx context.Context, err error) {
	m.SendCritical(ctx, "Trading Halted", fmt.Sprintf(
		"Fatal broker error, trading halted: %v", err,
	), map[string]interface{}{"error": err.Error()})
}

// StorageFailure reports a decision that could not be persisted; the
// associated order was withheld.
func (m *Manager) StorageFailure(ctx context.Context, symbol string, err error) {
	m.SendCritical(ctx, "Storage Failure", fmt.Sprintf(
		"Decision for %s not persisted, order withheld: %v", symbol, err,
	), map[string]interface{}{"symbol": symbol, "error": err.Error()})
}

// FillTimeout reports an order that did not reach a terminal state within
// the fill window.
func (m *Manager) FillTimeout(ctx context.Context, symbol, orderID string) {
	m.SendWarning(ctx, "Fill Timeout", fmt.Sprintf(
		"Order %s for %s did not fill within the timeout", orderID, symbol,
	), map[string]interface{}{"symbol": symbol, "order_id": orderID})
}
