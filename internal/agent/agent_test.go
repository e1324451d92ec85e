package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/store"
)

// Tuesday mid-morning in the market timezone
var testNow = func() time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	return time.Date(2026, 3, 3, 10, 0, 0, 0, loc)
}()

func testConfig(dir string) *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{TimeoutSeconds: 2, MaxInflight: 4},
		Model:  config.ModelConfig{TimeoutSeconds: 5, MaxInflight: 1},
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

func newTestAgent(t *testing.T, cfg *config.Config, mock broker.Broker, model llm.Model) (*Agent, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	require.NoError(t, err)
	clock := marketclock.New(loc, mock, config.NewLogger("test")).
		WithNow(func() time.Time { return testNow })

	a := New(cfg, Deps{
		Broker: mock,
		Model:  model,
		Clock:  clock,
		Store:  st,
	})
	return a, st
}

func buyResponse(confidence, shares int) string {
	return fmt.Sprintf(`{
		"action": "buy", "confidence": %d, "sentiment": "bullish",
		"reasoning": "Strong breakout above the 50 day average with rising volume supports an entry here.",
		"risk_factors": [{"severity": "MEDIUM", "text": "broad market pullback"}],
		"shares": %d
	}`, confidence, shares)
}

const holdResponse = `{
	"action": "hold", "confidence": 55, "sentiment": "neutral",
	"reasoning": "No clear edge in either direction at current levels, staying put.",
	"risk_factors": []
}`

func allDecisions(t *testing.T, st *store.Store) []store.DecisionRecord {
	t.Helper()
	recs, err := st.DecisionsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	return recs
}

func TestCycleExecutesHighConfidenceBuy(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := llm.NewMockModel(buyResponse(80, 0))
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	require.Len(t, mock.PlacedOrders, 1)
	order := mock.PlacedOrders[0]
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, broker.SideBuy, order.Side)
	// Shares omitted by the model default to the position cap: 10% of
	// $100k equity at $50 is 200 shares.
	assert.Equal(t, 200.0, order.Qty)

	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "buy", recs[0].Action)
	assert.True(t, recs[0].Executed)
	assert.Equal(t, "filled", recs[0].ExecutionReason)
	require.NotNil(t, recs[0].FillPrice)
	assert.Equal(t, 50.0, *recs[0].FillPrice)
}

func TestCycleSkippedOutsideActiveTrading(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	model := llm.NewMockModel(buyResponse(90, 0))
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateEveningAnalysis))
	assert.Empty(t, mock.PlacedOrders)
	assert.Empty(t, allDecisions(t, st))
}

func TestCycleSafeModeHoldsEverything(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := &llm.MockModel{ModelName: "mock", Err: llm.ErrModelUnavailable}
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	assert.Empty(t, mock.PlacedOrders, "safe mode must never submit orders")
	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "hold", recs[0].Action)
	assert.Equal(t, 0, recs[0].Confidence)
	assert.Contains(t, recs[0].Reasoning, "safe_mode")
	assert.False(t, recs[0].Executed)
}

func TestCycleCapitalConstraintTrigger(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Account.BuyingPower = 3000 // 3% of equity
	mock.Prices["MSFT"] = 100
	mock.SetPosition(broker.Position{
		Symbol: "MSFT", Qty: 50, AvgEntryPrice: 90, CurrentPrice: 100,
		MarketValue: 5000, UnrealizedPnL: 500, UnrealizedPnLPct: 11.1, DaysHeld: 3,
	})
	model := llm.NewMockModel(holdResponse)
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "CAPITAL_CONSTRAINT", recs[0].Trigger)
	assert.Equal(t, "POSITION_REVIEW", recs[0].QueryType)
	assert.Empty(t, mock.PlacedOrders)
}

func TestOvernightSellHandoffRunsFirst(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["NVDA"] = 100
	mock.SetPosition(broker.Position{
		Symbol: "NVDA", Qty: 50, AvgEntryPrice: 80, CurrentPrice: 100,
		MarketValue: 5000, UnrealizedPnL: 1000, UnrealizedPnLPct: 25, DaysHeld: 5,
	})
	model := llm.NewMockModel(holdResponse)
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, st.SaveOvernightAnalysis(context.Background(), &store.OvernightRecord{
		Symbol:     "NVDA",
		Date:       testNow.Format("2006-01-02"),
		Timestamp:  testNow.Add(-2 * time.Hour),
		Iterations: 4,
		Depth:      "deep",
		Action:     "sell",
		Confidence: 80,
		Reasoning:  "momentum exhausted and guidance risk into earnings",
	}))

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	require.Len(t, mock.PlacedOrders, 1)
	assert.Equal(t, broker.SideSell, mock.PlacedOrders[0].Side)
	assert.Equal(t, 50.0, mock.PlacedOrders[0].Qty)

	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "sell", recs[0].Action)
	assert.True(t, recs[0].Executed)
	assert.Contains(t, recs[0].Reasoning, "overnight handoff")
	// Sold during hand-off, so no position review followed.
	assert.Empty(t, model.Calls)
}

func TestOvernightHandoffIgnoresStaleAnalysis(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["NVDA"] = 100
	mock.SetPosition(broker.Position{
		Symbol: "NVDA", Qty: 50, AvgEntryPrice: 80, CurrentPrice: 100,
		MarketValue: 5000, UnrealizedPnL: 1000, UnrealizedPnLPct: 25, DaysHeld: 5,
	})
	model := llm.NewMockModel(holdResponse)
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	stale := testNow.Add(-19 * time.Hour)
	require.NoError(t, st.SaveOvernightAnalysis(context.Background(), &store.OvernightRecord{
		Symbol:     "NVDA",
		Date:       stale.Format("2006-01-02"),
		Timestamp:  stale,
		Action:     "sell",
		Confidence: 90,
		Reasoning:  "stale conclusion",
	}))

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	assert.Empty(t, mock.PlacedOrders)
	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "hold", recs[0].Action, "stale analysis falls through to a normal review")
}

func TestOvernightHandoffRespectsSellThreshold(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["NVDA"] = 100
	mock.SetPosition(broker.Position{
		Symbol: "NVDA", Qty: 50, CurrentPrice: 100, MarketValue: 5000,
	})
	model := llm.NewMockModel(holdResponse)
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	// Moderate profile requires sell confidence >= 60.
	require.NoError(t, st.SaveOvernightAnalysis(context.Background(), &store.OvernightRecord{
		Symbol:     "NVDA",
		Date:       testNow.Format("2006-01-02"),
		Timestamp:  testNow.Add(-time.Hour),
		Action:     "sell",
		Confidence: 55,
		Reasoning:  "weak conviction",
	}))

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))
	assert.Empty(t, mock.PlacedOrders)
}

func TestFillTimeoutRecordedWithoutRetry(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Trading.FillTimeoutSeconds = 0
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	mock.FillOrders = false
	model := llm.NewMockModel(buyResponse(80, 100))
	a, st := newTestAgent(t, cfg, mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	require.Len(t, mock.PlacedOrders, 1, "the order is submitted exactly once")
	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Executed)
	assert.Equal(t, "fill_timeout", recs[0].ExecutionReason)
	assert.NotEmpty(t, recs[0].OrderID)
}

func TestRiskRejectionRecordedNotExecuted(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	// 10000 shares at $50 is $500k, far past the 10% position cap.
	model := llm.NewMockModel(buyResponse(80, 10000))
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	assert.Empty(t, mock.PlacedOrders)
	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Executed)
	assert.Contains(t, recs[0].ExecutionReason, "position cap")
}

func TestParseFailureSkipsSymbol(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := llm.NewMockModel("I would definitely buy this one!")
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	assert.Empty(t, mock.PlacedOrders)
	assert.Empty(t, allDecisions(t, st), "unparseable responses never become decisions")
}

func TestAccountRefreshFailureAbortsCycle(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.FailNextOp = errors.New("account service broken")
	model := llm.NewMockModel(buyResponse(80, 0))
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	err := a.RunCycle(context.Background(), marketclock.StateActiveTrading)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account refresh")
	assert.Empty(t, mock.PlacedOrders)
	assert.Empty(t, allDecisions(t, st))
}

func TestDryRunRecordsWithoutSubmitting(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Trading.DryRun = true
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := llm.NewMockModel(buyResponse(80, 0))
	a, st := newTestAgent(t, cfg, mock, model)

	require.NoError(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading))

	assert.Empty(t, mock.PlacedOrders)
	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Executed)
	assert.Equal(t, "dry_run", recs[0].ExecutionReason)
}

// fatalBroker fails every order submission with a non-retryable error
type fatalBroker struct {
	*broker.MockBroker
}

func (f *fatalBroker) PlaceMarketOrder(ctx context.Context, symbol string, qty float64, side broker.OrderSide) (*broker.Order, error) {
	return nil, &broker.FatalError{Op: "place_order", Err: errors.New("status 401 unauthorized")}
}

func TestFatalBrokerErrorHaltsTrading(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["AAPL"] = 50
	model := llm.NewMockModel(buyResponse(80, 0))
	a, st := newTestAgent(t, testConfig(dir), &fatalBroker{mock}, model)

	err := a.RunCycle(context.Background(), marketclock.StateActiveTrading)
	require.ErrorIs(t, err, ErrTradingHalted)
	assert.True(t, a.Halted())

	recs := allDecisions(t, st)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Executed)
	assert.Equal(t, "broker_fatal", recs[0].ExecutionReason)

	// Subsequent cycles refuse to run until restart.
	require.ErrorIs(t, a.RunCycle(context.Background(), marketclock.StateActiveTrading), ErrTradingHalted)
}

func uptrendBars(symbol string, n int, start float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	ts := testNow.AddDate(0, 0, -n)
	price := start
	for i := range bars {
		price *= 1.004
		bars[i] = broker.Bar{
			Symbol:    symbol,
			Timestamp: ts.AddDate(0, 0, i),
			Open:      price * 0.995,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1_000_000,
		}
	}
	return bars
}

func TestQuickMarketIntelligenceCachesRegime(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Prices["SPY"] = 500
	mock.Bars["SPY"] = uptrendBars("SPY", 60, 480)
	model := llm.NewMockModel(`{
		"action": "hold", "confidence": 70, "sentiment": "bullish",
		"reasoning": "Index trending above both moving averages with contained volatility.",
		"risk_factors": []
	}`)
	a, _ := newTestAgent(t, testConfig(dir), mock, model)

	require.NoError(t, a.QuickMarketIntelligence(context.Background()))

	regime := a.cachedRegime()
	require.NotNil(t, regime)
	assert.Equal(t, "risk-on", regime.Label)
	assert.Equal(t, "BULLISH", regime.IndexTrend)
	assert.NotEmpty(t, regime.Notes)
}

func TestDailySummaryAggregatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	model := llm.NewMockModel("Quiet session with one winning exit and no new entries.")
	a, st := newTestAgent(t, testConfig(dir), mock, model)

	ctx := context.Background()
	require.NoError(t, st.SaveDecision(ctx, &store.DecisionRecord{
		Timestamp: testNow.Add(-4 * time.Hour), Symbol: "AAPL", Action: "buy",
		Shares: 10, PriceSnapshot: 50, Confidence: 80, Sentiment: "bullish",
		Reasoning: "entry", Trigger: "SCHEDULED_CYCLE", QueryType: "NEW_OPPORTUNITY",
		Executed: true, ExecutionReason: "filled",
	}))
	require.NoError(t, st.UpdateOutcome(ctx, "AAPL", 120, 4.8, testNow.Add(-time.Hour)))

	require.NoError(t, a.DailySummary(ctx))

	date := testNow.Format("2006-01-02")
	rows, err := st.DailyPerformanceRange(ctx, date, date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Trades)
	assert.InDelta(t, 120.0, rows[0].PnL, 1e-9)
	assert.InDelta(t, 1.0, rows[0].WinRate, 1e-9)
}
