package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values are bounded sets; arbitrary strings never become labels.
const (
	// Parse outcomes
	ParseOk        = "ok"
	ParseFailed    = "parse_error"
	ParseSchema    = "schema_error"
	ParseCopyPaste = "copy_paste_suspected"

	// Broker error categories
	BrokerErrTimeout = "timeout"
	BrokerErrAuth    = "authentication"
	BrokerErrNetwork = "network"
	BrokerErrServer  = "server_error"
	BrokerErrOther   = "other"
)

// NormalizeBrokerError maps an arbitrary broker error onto the bounded
// category set.
func NormalizeBrokerError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return BrokerErrTimeout
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return BrokerErrAuth
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") || strings.Contains(msg, "reset"):
		return BrokerErrNetwork
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return BrokerErrServer
	default:
		return BrokerErrOther
	}
}

var (
	// CyclesTotal counts trading cycles by final status
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "trading_cycles_total",
		Help:      "Trading cycles run, by final status",
	}, []string{"status"}) // completed | aborted | safe_mode

	// DecisionsTotal counts parsed decisions by action
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "decisions_total",
		Help:      "Decisions recorded, by action",
	}, []string{"action"}) // buy | sell | hold

	// OrdersTotal counts order submissions by side and outcome
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "orders_total",
		Help:      "Orders submitted, by side and outcome",
	}, []string{"side", "outcome"}) // filled | fill_timeout | rejected | error

	// RiskRejectionsTotal counts risk-gate rejections by check
	RiskRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "risk_rejections_total",
		Help:      "Proposals rejected by the risk gate, by check",
	}, []string{"check"})

	// ParseResultsTotal counts model responses by parse classification
	ParseResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "parse_results_total",
		Help:      "Model responses by parse classification",
	}, []string{"status"})

	// ModelLatency observes single-turn model latency
	ModelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketmind",
		Name:      "model_latency_seconds",
		Help:      "Model single-turn completion latency",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// BrokerErrorsTotal counts broker failures by category
	BrokerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "broker_errors_total",
		Help:      "Broker call failures, by category",
	}, []string{"category"})

	// AccountEquity tracks the latest account equity snapshot
	AccountEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketmind",
		Name:      "account_equity_dollars",
		Help:      "Latest account equity",
	})

	// PortfolioExposurePct tracks gross exposure relative to equity
	PortfolioExposurePct = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketmind",
		Name:      "portfolio_exposure_pct",
		Help:      "Gross exposure as a percentage of equity",
	})

	// MarketState publishes the current session state as a one-hot vector
	MarketState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "marketmind",
		Name:      "market_state",
		Help:      "Current market session state (1 for active state, 0 otherwise)",
	}, []string{"state"})

	// NewsArticlesTotal counts accumulated overnight articles
	NewsArticlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketmind",
		Name:      "news_articles_total",
		Help:      "News articles accumulated into timelines",
	})

	// OvernightIterations observes deep-analysis loop lengths
	OvernightIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketmind",
		Name:      "overnight_iterations",
		Help:      "Iterations per overnight deep analysis",
		Buckets:   []float64{1, 2, 3, 5, 8, 12, 15},
	})
)

// SetMarketState flips the one-hot state gauge
func SetMarketState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		MarketState.WithLabelValues(s).Set(v)
	}
}
