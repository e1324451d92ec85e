package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akindell/marketmind/internal/agent"
	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/overnight"
	"github.com/akindell/marketmind/internal/store"
)

func marketTime(day, hour, min int) time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	// March 2026: the 2nd is a Monday.
	return time.Date(2026, 3, day, hour, min, 0, 0, loc)
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{TimeoutSeconds: 2, MaxInflight: 4},
		Model:  config.ModelConfig{TimeoutSeconds: 5, SessionTimeoutSeconds: 10, MaxInflight: 1},
		Trading: config.TradingConfig{
			Profile:              "moderate",
			Symbols:              []string{"AAPL"},
			CycleIntervalMinutes: 5,
			NewOpportunityBudget: 1,
			FillTimeoutSeconds:   1,
		},
		Risk: config.RiskConfig{
			MaxPositionSizePct:      10,
			MaxDailyLossPct:         2,
			MaxPortfolioExposurePct: 150,
			MaxTradesPerDay:         10,
		},
		Universe: config.UniverseConfig{
			Size:       1,
			CacheHours: 24,
			CachePath:  filepath.Join(dir, "universe_cache.json"),
		},
		Market: config.MarketConfig{Timezone: "America/New_York"},
	}
}

type fixture struct {
	scheduler *Scheduler
	store     *store.Store
	now       *time.Time
}

func newFixture(t *testing.T, mock broker.Broker, model llm.Model, at time.Time) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := at
	loc, err := time.LoadLocation(cfg.Market.Timezone)
	require.NoError(t, err)
	clock := marketclock.New(loc, mock, config.NewLogger("test")).
		WithNow(func() time.Time { return now })

	ag := agent.New(cfg, agent.Deps{Broker: mock, Model: model, Clock: clock, Store: st})
	an := overnight.New(cfg, overnight.Deps{Broker: mock, Model: model, Clock: clock, Store: st})
	s := New(cfg, Deps{Clock: clock, Agent: ag, Analyst: an, Broker: mock})

	return &fixture{scheduler: s, store: st, now: &now}
}

// seedBackground marks the background cadence tasks as just run so a tick
// exercises only the trading cycle.
func (f *fixture) seedBackground() {
	f.scheduler.lastRun["quick_market_intelligence"] = *f.now
	f.scheduler.lastRun["deep_sector_analysis"] = *f.now
}

func decisions(t *testing.T, st *store.Store) []store.DecisionRecord {
	t.Helper()
	recs, err := st.DecisionsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	return recs
}

const holdResponse = `{
	"action": "hold", "confidence": 55, "sentiment": "neutral",
	"reasoning": "No clear edge in either direction at current levels, staying put.",
	"risk_factors": []
}`

func TestTickRunsTradingCycleOnCadence(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := llm.NewMockModel(holdResponse)
	// Tuesday 10:00, active trading.
	f := newFixture(t, mock, model, marketTime(3, 10, 0))
	f.seedBackground()

	sleep, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sleep, minSleep)
	assert.LessOrEqual(t, sleep, maxSleep)

	recs := decisions(t, f.store)
	require.Len(t, recs, 1)
	assert.Equal(t, "hold", recs[0].Action)

	// Same instant again: the cycle is not due.
	_, err = f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, decisions(t, f.store), 1)

	// Past the cadence interval it fires again.
	*f.now = f.now.Add(5 * time.Minute)
	f.seedBackground()
	_, err = f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, decisions(t, f.store), 2)
}

func TestTickRunsNothingWhenStateUnknown(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.FailNextOp = &broker.UnavailableError{Op: "market_status", Err: errors.New("gateway timeout")}
	model := llm.NewMockModel(holdResponse)
	f := newFixture(t, mock, model, marketTime(3, 10, 0))

	_, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, decisions(t, f.store))
	assert.Empty(t, f.scheduler.lastRun)
}

type fatalOrderBroker struct {
	*broker.MockBroker
}

func (f *fatalOrderBroker) PlaceMarketOrder(ctx context.Context, symbol string, qty float64, side broker.OrderSide) (*broker.Order, error) {
	return nil, &broker.FatalError{Op: "place_order", Err: errors.New("account blocked, status 401")}
}

func TestTickPropagatesTradingHalt(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := llm.NewMockModel(fmt.Sprintf(`{
		"action": "buy", "confidence": 90, "sentiment": "bullish",
		"reasoning": "Breakout above resistance on strong volume, entering.",
		"risk_factors": [], "shares": %d
	}`, 10))
	f := newFixture(t, &fatalOrderBroker{mock}, model, marketTime(3, 10, 0))
	f.seedBackground()

	_, err := f.scheduler.Tick(context.Background())
	require.ErrorIs(t, err, agent.ErrTradingHalted)
}

func TestOnceTaskFiresOncePerDay(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := marketTime(3, 15, 45)
	clock := marketclock.New(loc, broker.NewMockBroker(), config.NewLogger("test")).
		WithNow(func() time.Time { return now })

	fired := 0
	s := &Scheduler{
		clock:   clock,
		logger:  config.NewLogger("test"),
		lastRun: make(map[string]time.Time),
		firedOn: make(map[string]string),
	}
	s.tasks = []task{{
		name: "probe", state: marketclock.StateMarketClosing, at: "15:00",
		run: func(ctx context.Context) error { fired++; return nil },
	}}

	// 15:45 is past the 15:00 gate: due, fires once.
	due := s.due(marketclock.StateMarketClosing, now)
	require.Len(t, due, 1)
	require.NoError(t, s.dispatch(context.Background(), due[0], now))
	assert.Equal(t, 1, fired)

	// Already fired today.
	assert.Empty(t, s.due(marketclock.StateMarketClosing, now))
	now = now.Add(30 * time.Minute)
	assert.Empty(t, s.due(marketclock.StateMarketClosing, now))

	// Fires again the next day.
	now = marketTime(4, 15, 45)
	assert.Len(t, s.due(marketclock.StateMarketClosing, now), 1)
}

func TestOnceTaskWaitsForGate(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := marketTime(4, 6, 30)
	clock := marketclock.New(loc, broker.NewMockBroker(), config.NewLogger("test")).
		WithNow(func() time.Time { return now })

	s := &Scheduler{
		clock:   clock,
		logger:  config.NewLogger("test"),
		lastRun: make(map[string]time.Time),
		firedOn: make(map[string]string),
	}
	s.tasks = []task{{
		name: "scan", state: marketclock.StatePremarketPrep, at: "07:00",
		run: func(ctx context.Context) error { return nil },
	}}

	assert.Empty(t, s.due(marketclock.StatePremarketPrep, now))
	now = marketTime(4, 7, 0)
	assert.Len(t, s.due(marketclock.StatePremarketPrep, now), 1)
}

func TestWeekdayGateRestrictsCritique(t *testing.T) {
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(holdResponse)
	// Thursday evening.
	f := newFixture(t, mock, model, marketTime(5, 18, 30))

	names := func(tasks []task) []string {
		var out []string
		for _, tk := range tasks {
			out = append(out, tk.name)
		}
		return out
	}

	due := f.scheduler.due(marketclock.StateEveningAnalysis, *f.now)
	assert.NotContains(t, names(due), "weekly_self_critique")

	// Friday evening.
	*f.now = marketTime(6, 18, 30)
	due = f.scheduler.due(marketclock.StateEveningAnalysis, *f.now)
	assert.Contains(t, names(due), "weekly_self_critique")
}

func TestWeekendSuppressesTradingTasks(t *testing.T) {
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(holdResponse)
	// Saturday 07:00 collapses to premarket prep, but nothing trading
	// related may fire.
	f := newFixture(t, mock, model, marketTime(7, 7, 0))

	assert.Empty(t, f.scheduler.due(marketclock.StatePremarketPrep, *f.now))
}

func TestDuePrefersHigherPriority(t *testing.T) {
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(holdResponse)
	f := newFixture(t, mock, model, marketTime(3, 10, 0))

	due := f.scheduler.due(marketclock.StateActiveTrading, *f.now)
	require.NotEmpty(t, due)
	assert.Equal(t, "run_cycle", due[0].name)
	for i := 1; i < len(due); i++ {
		assert.GreaterOrEqual(t, due[i-1].priority, due[i].priority)
	}
}

func TestSleepForTracksNextCadenceFire(t *testing.T) {
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(holdResponse)
	f := newFixture(t, mock, model, marketTime(3, 10, 0))

	// The cycle fires again in 30 seconds; everything else is farther out.
	f.scheduler.lastRun["run_cycle"] = f.now.Add(-4*time.Minute - 30*time.Second)
	f.scheduler.lastRun["quick_market_intelligence"] = *f.now
	f.scheduler.lastRun["deep_sector_analysis"] = *f.now

	sleep := f.scheduler.sleepFor(marketclock.StateActiveTrading, *f.now)
	assert.Equal(t, 30*time.Second, sleep)
}

func TestSleepForClampsToStateBoundary(t *testing.T) {
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(holdResponse)
	// 15:29, one minute before the closing boundary.
	f := newFixture(t, mock, model, marketTime(3, 15, 29))

	f.scheduler.lastRun["run_cycle"] = *f.now
	f.scheduler.lastRun["quick_market_intelligence"] = *f.now
	f.scheduler.lastRun["deep_sector_analysis"] = *f.now

	sleep := f.scheduler.sleepFor(marketclock.StateActiveTrading, *f.now)
	assert.Equal(t, time.Minute, sleep)
}

func TestNewsDateRollsForwardAfterClose(t *testing.T) {
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(holdResponse)
	f := newFixture(t, mock, model, marketTime(3, 10, 0))

	// Evening accumulation feeds tomorrow's open.
	assert.Equal(t, "20260304", f.scheduler.newsDate(marketTime(3, 17, 0)))
	assert.Equal(t, "20260304", f.scheduler.newsDate(marketTime(3, 23, 30)))
	// After midnight the calendar date already matches the trading date.
	assert.Equal(t, "20260304", f.scheduler.newsDate(marketTime(4, 2, 0)))
	assert.Equal(t, "20260303", f.scheduler.newsDate(marketTime(3, 10, 0)))
}
