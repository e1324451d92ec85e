package marketclock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akindell/marketmind/internal/broker"
)

func nyLoc(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

// Tuesday 2025-06-10 is a regular trading day.
func nyTime(t *testing.T, hour, minute int) time.Time {
	return time.Date(2025, time.June, 10, hour, minute, 0, 0, nyLoc(t))
}

func fixedClock(t *testing.T, at time.Time, b broker.Broker) *Clock {
	c := New(nyLoc(t), b, zerolog.Nop())
	return c.WithNow(func() time.Time { return at })
}

func TestStateAtWeekday(t *testing.T) {
	tests := []struct {
		hour, minute int
		want         State
	}{
		{5, 59, StateOvernightSleep},
		{6, 0, StatePremarketPrep},
		{9, 29, StatePremarketPrep},
		{9, 30, StateActiveTrading},
		{15, 29, StateActiveTrading},
		{15, 30, StateMarketClosing},
		{16, 29, StateMarketClosing},
		{16, 30, StateEveningAnalysis},
		{21, 59, StateEveningAnalysis},
		{22, 0, StateOvernightSleep},
		{23, 45, StateOvernightSleep},
		{0, 30, StateOvernightSleep},
	}
	c := New(nyLoc(t), nil, zerolog.Nop())
	for _, tt := range tests {
		got := c.StateAt(nyTime(t, tt.hour, tt.minute))
		assert.Equal(t, tt.want, got, "at %02d:%02d", tt.hour, tt.minute)
	}
}

func TestStateAtWeekendCollapses(t *testing.T) {
	c := New(nyLoc(t), nil, zerolog.Nop())
	saturdayNoon := time.Date(2025, time.June, 14, 12, 0, 0, 0, nyLoc(t))
	saturdayNight := time.Date(2025, time.June, 14, 23, 0, 0, 0, nyLoc(t))

	assert.Equal(t, StatePremarketPrep, c.StateAt(saturdayNoon))
	assert.Equal(t, StateOvernightSleep, c.StateAt(saturdayNight))
	assert.False(t, c.TradingDay(saturdayNoon))
}

func TestHolidaySuppressesTrading(t *testing.T) {
	c := New(nyLoc(t), nil, zerolog.Nop())
	july4 := time.Date(2025, time.July, 4, 10, 0, 0, 0, nyLoc(t)) // Friday
	assert.False(t, c.TradingDay(july4))
	assert.Equal(t, StatePremarketPrep, c.StateAt(july4))

	thanksgiving := time.Date(2025, time.November, 27, 10, 0, 0, 0, nyLoc(t))
	assert.False(t, c.TradingDay(thanksgiving))

	goodFriday := time.Date(2025, time.April, 18, 10, 0, 0, 0, nyLoc(t))
	assert.False(t, c.TradingDay(goodFriday))

	regularDay := nyTime(t, 10, 0)
	assert.True(t, c.TradingDay(regularDay))
}

func TestCurrentStateUnknownWhenBrokerDown(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.FailNextOp = errors.New("connection refused")

	c := fixedClock(t, nyTime(t, 10, 0), mock)
	assert.Equal(t, StateUnknown, c.CurrentState(context.Background()))
	assert.False(t, c.IsTradeable(context.Background()))
}

func TestCurrentStateTrustsVenueOverClock(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.Market.IsOpen = false // unscheduled halt or half day

	c := fixedClock(t, nyTime(t, 10, 0), mock)
	assert.Equal(t, StateUnknown, c.CurrentState(context.Background()))
}

func TestCurrentStateActiveWhenVenueOpen(t *testing.T) {
	mock := broker.NewMockBroker()
	c := fixedClock(t, nyTime(t, 10, 0), mock)

	assert.Equal(t, StateActiveTrading, c.CurrentState(context.Background()))
	assert.True(t, c.IsTradeable(context.Background()))
}

func TestCurrentStateSkipsBrokerOffHours(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.FailNextOp = errors.New("connection refused")

	// Evening state never consults the broker, so the pending failure
	// must not demote the state.
	c := fixedClock(t, nyTime(t, 18, 0), mock)
	assert.Equal(t, StateEveningAnalysis, c.CurrentState(context.Background()))
}

func TestNextTransition(t *testing.T) {
	c := New(nyLoc(t), nil, zerolog.Nop())

	at := nyTime(t, 10, 0)
	next := c.NextTransition(at)
	assert.Equal(t, nyTime(t, 15, 30), next)

	at = nyTime(t, 22, 30)
	next = c.NextTransition(at)
	assert.Equal(t, time.Date(2025, time.June, 11, 6, 0, 0, 0, nyLoc(t)), next)
}

func TestTimeUntil(t *testing.T) {
	c := fixedClock(t, nyTime(t, 14, 0), nil)

	until := c.TimeUntil(StateMarketClosing)
	assert.Equal(t, 90*time.Minute, until)

	untilSleep := c.TimeUntil(StateOvernightSleep)
	assert.Equal(t, 8*time.Hour, untilSleep)
}
