package overnight

import (
	"context"
	"encoding/json"
	"os"
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

var eveningNow = func() time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	return time.Date(2026, 3, 3, 17, 0, 0, 0, loc)
}()

func testConfig(dir string) *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{TimeoutSeconds: 2, MaxInflight: 4},
		Model:  config.ModelConfig{TimeoutSeconds: 5, SessionTimeoutSeconds: 10, MaxInflight: 1},
		Trading: config.TradingConfig{
			Profile: "moderate",
			Symbols: []string{"TSLA"},
		},
		Universe: config.UniverseConfig{
			Size:       1,
			CacheHours: 24,
			CachePath:  filepath.Join(dir, "universe_cache.json"),
		},
		Market: config.MarketConfig{Timezone: "America/New_York"},
	}
}

func newTestAnalyst(t *testing.T, cfg *config.Config, mock broker.Broker, model llm.Model, at time.Time) (*Analyst, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	require.NoError(t, err)
	clock := marketclock.New(loc, mock, config.NewLogger("test")).
		WithNow(func() time.Time { return at })

	a := New(cfg, Deps{
		Broker: mock,
		Model:  model,
		Clock:  clock,
		Store:  st,
	})
	return a, st
}

const dataRequestTurn = `{"needs_more_data": true, "requested_data": ["price_history", "volume_profile"]}`

const sellDecisionTurn = `{
	"action": "sell", "confidence": 85, "sentiment": "bearish",
	"reasoning": "Distribution pattern in the requested volume data confirms the uptrend is done.",
	"risk_factors": [{"severity": "MEDIUM", "text": "short squeeze on any positive surprise"}]
}`

func flatBars(symbol string, n int, price float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	ts := eveningNow.AddDate(0, 0, -n)
	for i := range bars {
		bars[i] = broker.Bar{
			Symbol:    symbol,
			Timestamp: ts.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.005,
			Low:       price * 0.995,
			Close:     price,
			Volume:    500_000,
		}
	}
	return bars
}

func TestDeepAnalysisServesDataRequestsThenRecordsDecision(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.Bars["AAPL"] = flatBars("AAPL", 60, 100)
	mock.SetPosition(broker.Position{
		Symbol: "AAPL", Qty: 10, AvgEntryPrice: 90, CurrentPrice: 100,
		MarketValue: 1000, UnrealizedPnL: 100, UnrealizedPnLPct: 11.1, DaysHeld: 4,
	})
	model := llm.NewMockModel(dataRequestTurn, sellDecisionTurn)
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, eveningNow)

	require.NoError(t, a.EveningDeepLearning(context.Background()))

	rec, err := st.OvernightAnalysis(context.Background(), "AAPL", eveningNow.Format("2006-01-02"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "sell", rec.Action)
	assert.InDelta(t, 85, rec.Confidence, 1e-9)
	assert.Equal(t, 2, rec.Iterations)
	assert.Equal(t, "shallow", rec.Depth)
	assert.NotEmpty(t, rec.ConversationJSON)

	// The second model turn received the fulfilled data request.
	require.Len(t, model.Calls, 2)
	assert.Contains(t, model.Calls[1], "REQUESTED DATA")
	assert.Contains(t, model.Calls[1], "price_history")
	assert.Contains(t, model.Calls[1], "volume_profile")
}

func TestDeepAnalysisStopsAtIterationLimit(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.SetPosition(broker.Position{Symbol: "AAPL", Qty: 10, CurrentPrice: 100, MarketValue: 1000})
	// The single scripted response repeats: the model never decides.
	model := llm.NewMockModel(dataRequestTurn)
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, eveningNow)

	require.NoError(t, a.EveningDeepLearning(context.Background()))

	rec, err := st.OvernightAnalysis(context.Background(), "AAPL", eveningNow.Format("2006-01-02"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, maxIterations, rec.Iterations)
	assert.Equal(t, "hold", rec.Action)
	assert.Zero(t, rec.Confidence)
	assert.Contains(t, rec.Reasoning, "iteration limit")
	assert.Len(t, model.Calls, maxIterations)
}

func TestDeepAnalysisUnknownDataItemReportedUnavailable(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	mock.SetPosition(broker.Position{Symbol: "AAPL", Qty: 10, CurrentPrice: 100, MarketValue: 1000})
	model := llm.NewMockModel(
		`{"needs_more_data": true, "requested_data": ["insider_trading_flow"]}`,
		sellDecisionTurn,
	)
	a, _ := newTestAnalyst(t, testConfig(dir), mock, model, eveningNow)

	require.NoError(t, a.EveningDeepLearning(context.Background()))

	require.Len(t, model.Calls, 2)
	assert.Contains(t, model.Calls[1], "insider_trading_flow")
	assert.Contains(t, model.Calls[1], "no data source available")
}

func TestWeeklySelfCritiqueRecordsStreamAndLesson(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	model := llm.NewMockModel("The recurring mistake was buying extended breakouts late in the day. Next week: no entries after 14:30.")
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, eveningNow)

	ctx := context.Background()
	require.NoError(t, st.SaveDecision(ctx, &store.DecisionRecord{
		Timestamp: eveningNow.Add(-48 * time.Hour), Symbol: "AAPL", Action: "buy",
		Shares: 10, PriceSnapshot: 100, Confidence: 75, Sentiment: "bullish",
		Reasoning: "breakout entry", Trigger: "SCHEDULED_CYCLE", QueryType: "NEW_OPPORTUNITY",
		Executed: true, ExecutionReason: "filled",
	}))
	require.NoError(t, st.UpdateOutcome(ctx, "AAPL", -50, -5, eveningNow.Add(-24*time.Hour)))

	require.NoError(t, a.WeeklySelfCritique(ctx))

	data, err := os.ReadFile(st.StreamPath("self_critique"))
	require.NoError(t, err)
	var artifact CritiqueArtifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, 1, artifact.Decisions)
	assert.Equal(t, 1, artifact.Losses)
	assert.InDelta(t, -50, artifact.NetPnL, 1e-9)
	assert.Contains(t, artifact.Critique, "recurring mistake")

	lessons, err := st.Lessons(ctx, 5)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "self_critique", lessons[0].Source)
}

func TestWeeklySelfCritiqueSkipsEmptyWeek(t *testing.T) {
	dir := t.TempDir()
	mock := broker.NewMockBroker()
	model := llm.NewMockModel("should not be called")
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, eveningNow)

	require.NoError(t, a.WeeklySelfCritique(context.Background()))
	assert.Empty(t, model.Calls)
	_, err := os.ReadFile(st.StreamPath("self_critique"))
	assert.True(t, os.IsNotExist(err))
}

func TestMorningHandoffCollectsEveningConclusions(t *testing.T) {
	dir := t.TempDir()
	loc, _ := time.LoadLocation("America/New_York")
	morning := time.Date(2026, 3, 4, 6, 0, 0, 0, loc)
	mock := broker.NewMockBroker()
	model := llm.NewMockModel("unused")
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, morning)

	ctx := context.Background()
	require.NoError(t, st.SaveOvernightAnalysis(ctx, &store.OvernightRecord{
		Symbol:     "NVDA",
		Date:       "2026-03-03",
		Timestamp:  eveningNow,
		Iterations: 5,
		Depth:      "standard",
		Action:     "sell",
		Confidence: 78,
		Reasoning:  "deteriorating breadth in the sector",
	}))

	require.NoError(t, a.MorningHandoff(ctx))

	data, err := os.ReadFile(st.StreamPath("overnight_summary"))
	require.NoError(t, err)
	var summary MorningSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "2026-03-04", summary.Date)
	require.Len(t, summary.Recommendations, 1)
	assert.Equal(t, "NVDA", summary.Recommendations[0].Symbol)
	assert.Equal(t, "sell", summary.Recommendations[0].Action)
	assert.InDelta(t, 78, summary.Recommendations[0].Confidence, 1e-9)
}

func TestPremarketScannerFlagsGaps(t *testing.T) {
	dir := t.TempDir()
	loc, _ := time.LoadLocation("America/New_York")
	premarket := time.Date(2026, 3, 4, 7, 0, 0, 0, loc)
	mock := broker.NewMockBroker()
	mock.Bars["TSLA"] = flatBars("TSLA", 5, 100)
	mock.Prices["TSLA"] = 105
	model := llm.NewMockModel("unused")
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, premarket)

	require.NoError(t, a.PremarketScanner(context.Background()))

	data, err := os.ReadFile(st.StreamPath("premarket_scanner"))
	require.NoError(t, err)
	var scan PremarketScan
	require.NoError(t, json.Unmarshal(data, &scan))
	require.Len(t, scan.Candidates, 1)
	assert.Equal(t, "TSLA", scan.Candidates[0].Symbol)
	assert.InDelta(t, 5.0, scan.Candidates[0].GapPct, 1e-9)
}

func TestPremarketScannerIgnoresSmallMoves(t *testing.T) {
	dir := t.TempDir()
	loc, _ := time.LoadLocation("America/New_York")
	premarket := time.Date(2026, 3, 4, 7, 0, 0, 0, loc)
	mock := broker.NewMockBroker()
	mock.Bars["TSLA"] = flatBars("TSLA", 5, 100)
	mock.Prices["TSLA"] = 101
	model := llm.NewMockModel("unused")
	a, st := newTestAnalyst(t, testConfig(dir), mock, model, premarket)

	require.NoError(t, a.PremarketScanner(context.Background()))

	data, err := os.ReadFile(st.StreamPath("premarket_scanner"))
	require.NoError(t, err)
	var scan PremarketScan
	require.NoError(t, json.Unmarshal(data, &scan))
	assert.Empty(t, scan.Candidates)
}
