package marketclock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/broker"
)

// State is the market session state that gates all scheduling
type State string

const (
	StateActiveTrading   State = "ACTIVE_TRADING"   // weekday 09:30-15:30
	StateMarketClosing   State = "MARKET_CLOSING"   // 15:30-16:30
	StateEveningAnalysis State = "EVENING_ANALYSIS" // 16:30-22:00
	StateOvernightSleep  State = "OVERNIGHT_SLEEP"  // 22:00-06:00
	StatePremarketPrep   State = "PREMARKET_PREP"   // 06:00-09:30
	StateUnknown         State = "UNKNOWN"          // broker truth unavailable; non-trading
)

// Clock maps wall-clock instants in the market timezone to session states.
// The broker supplies the market-open truth when reachable.
type Clock struct {
	loc    *time.Location
	broker broker.Broker
	nowFn  func() time.Time
	logger zerolog.Logger
}

// New creates a Clock in the given timezone. The broker may be nil in
// offline tooling; IsTradeable then always reports false.
func New(loc *time.Location, b broker.Broker, logger zerolog.Logger) *Clock {
	return &Clock{
		loc:    loc,
		broker: b,
		nowFn:  time.Now,
		logger: logger,
	}
}

// WithNow overrides the time source, for tests
func (c *Clock) WithNow(nowFn func() time.Time) *Clock {
	c.nowFn = nowFn
	return c
}

// Location returns the market timezone
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the current instant in the market timezone
func (c *Clock) Now() time.Time { return c.nowFn().In(c.loc) }

// minuteOfDay converts a local time to minutes since midnight
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Session boundaries, minutes since midnight market time.
const (
	premarketStart = 6 * 60            // 06:00
	openMinute     = 9*60 + 30         // 09:30
	closingMinute  = 15*60 + 30        // 15:30
	eveningMinute  = 16*60 + 30        // 16:30
	sleepMinute    = 22 * 60           // 22:00
)

// StateAt maps an instant to its session state. Weekends and holidays
// collapse to OVERNIGHT_SLEEP at night and PREMARKET_PREP otherwise; trading
// task suppression is expressed through TradingDay.
func (c *Clock) StateAt(t time.Time) State {
	t = t.In(c.loc)
	m := minuteOfDay(t)

	if !c.TradingDay(t) {
		if m >= sleepMinute || m < premarketStart {
			return StateOvernightSleep
		}
		return StatePremarketPrep
	}

	switch {
	case m >= openMinute && m < closingMinute:
		return StateActiveTrading
	case m >= closingMinute && m < eveningMinute:
		return StateMarketClosing
	case m >= eveningMinute && m < sleepMinute:
		return StateEveningAnalysis
	case m >= sleepMinute || m < premarketStart:
		return StateOvernightSleep
	default:
		return StatePremarketPrep
	}
}

// NowState returns the wall-clock session state
func (c *Clock) NowState() State {
	return c.StateAt(c.Now())
}

// CurrentState returns the session state, demoting to UNKNOWN when the
// state would permit trading but the broker's market truth is unreachable.
// The scheduler treats UNKNOWN as non-trading.
func (c *Clock) CurrentState(ctx context.Context) State {
	state := c.NowState()
	if state != StateActiveTrading && state != StateMarketClosing {
		return state
	}
	if c.broker == nil {
		return StateUnknown
	}
	status, err := c.broker.GetMarketStatus(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Market status unavailable, treating state as UNKNOWN")
		return StateUnknown
	}
	if state == StateActiveTrading && !status.IsOpen {
		// Clock says trading hours but the venue disagrees (half day,
		// unscheduled halt). Trust the venue.
		return StateUnknown
	}
	return state
}

// IsTradeable reports whether new buy-side trading activity is permitted
func (c *Clock) IsTradeable(ctx context.Context) bool {
	return c.CurrentState(ctx) == StateActiveTrading
}

// TradingDay reports whether t falls on a weekday that is not a market
// holiday.
func (c *Clock) TradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !isHoliday(t)
}

// boundaries lists the intra-day transition minutes in ascending order
var boundaries = []int{premarketStart, openMinute, closingMinute, eveningMinute, sleepMinute}

// NextTransition returns the next state-boundary instant strictly after t
func (c *Clock) NextTransition(t time.Time) time.Time {
	t = t.In(c.loc)
	m := minuteOfDay(t)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)

	for _, b := range boundaries {
		if m < b {
			return midnight.Add(time.Duration(b) * time.Minute)
		}
	}
	// Past 22:00: next boundary is tomorrow's 06:00.
	return midnight.AddDate(0, 0, 1).Add(time.Duration(premarketStart) * time.Minute)
}

// TimeUntil returns the duration until the clock next enters target,
// scanning transition boundaries up to two weeks ahead.
func (c *Clock) TimeUntil(target State) time.Duration {
	now := c.Now()
	t := now
	for i := 0; i < 14*6; i++ {
		t = c.NextTransition(t)
		if c.StateAt(t) == target {
			return t.Sub(now)
		}
	}
	return 0
}
