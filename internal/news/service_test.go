package news

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/store"
)

const testDate = "20260302"

func article(id, symbol, headline string, ts time.Time) broker.NewsArticle {
	return broker.NewsArticle{
		ID: id, Timestamp: ts, Headline: headline,
		Source: "wire", Symbols: []string{symbol},
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccumulateDeduplicatesByID(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{
		article("a1", "AAPL", "first", base),
		article("a2", "AAPL", "second", base.Add(10*time.Minute)),
	}

	svc := NewService(mock, llm.NewMockModel(), openStore(t), 4)
	ctx := context.Background()

	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	// Second sweep returns the same articles plus one new one.
	mock.News = append(mock.News, article("a3", "AAPL", "third", base.Add(30*time.Minute)))
	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))

	articles := svc.RecentArticles("AAPL", testDate, 0)
	require.Len(t, articles, 3)
	assert.Equal(t, "first", articles[0].Headline)
	assert.Equal(t, "third", articles[2].Headline)
}

func TestAccumulateOrdersByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{
		article("late", "AAPL", "late", base.Add(time.Hour)),
		article("early", "AAPL", "early", base),
	}

	svc := NewService(mock, llm.NewMockModel(), nil, 4)
	require.NoError(t, svc.Accumulate(context.Background(), []string{"AAPL"}, testDate, base.Add(-time.Hour)))

	articles := svc.RecentArticles("AAPL", testDate, 0)
	require.Len(t, articles, 2)
	assert.Equal(t, "early", articles[0].Headline)
}

func TestSynthesizeStoresSingleSynthesis(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "AAPL", "guidance raised", base)}

	model := llm.NewMockModel(`{
		"narrative": "Guidance raise dominated coverage and later pieces confirmed it.",
		"net_sentiment": "bullish",
		"confidence": 0.8,
		"key_themes": ["guidance"],
		"contradictions": [],
		"recommendation": "BUY",
		"reasoning": "Consistent positive flow."
	}`)

	svc := NewService(mock, model, openStore(t), 4)
	ctx := context.Background()
	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	require.NoError(t, svc.Synthesize(ctx, testDate))

	syn := svc.SynthesisFor("AAPL", testDate)
	require.NotNil(t, syn)
	assert.Equal(t, RecommendBuy, syn.Recommendation)
	assert.InDelta(t, 0.8, syn.Confidence, 1e-9)
	assert.False(t, syn.Stale)

	// A second synthesis pass finds nothing pending; the synthesis stays.
	require.NoError(t, svc.Synthesize(ctx, testDate))
	assert.Len(t, model.Calls, 1, "already-synthesized timelines are not re-sent")
}

func TestSynthesizeRejectsBadRecommendation(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "AAPL", "h", base)}

	model := llm.NewMockModel(`{"narrative": "x", "net_sentiment": "bullish", "confidence": 0.9, "recommendation": "MORTGAGE_THE_HOUSE", "reasoning": "r"}`)
	svc := NewService(mock, model, nil, 4)
	ctx := context.Background()

	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	require.NoError(t, svc.Synthesize(ctx, testDate))

	assert.Nil(t, svc.SynthesisFor("AAPL", testDate), "invalid synthesis must not be stored")
}

func TestValidateMarksStaleOnBreakingNews(t *testing.T) {
	// Relative timestamps: synthesis stamps itself with the wall clock, so
	// the evening article must sit before it and the breaking one after.
	base := time.Now().Add(-3 * time.Hour)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "AAPL", "evening story", base)}

	model := llm.NewMockModel(`{"narrative": "n", "net_sentiment": "bullish", "confidence": 0.8, "recommendation": "BUY", "reasoning": "r"}`)
	svc := NewService(mock, model, nil, 4)
	ctx := context.Background()

	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	require.NoError(t, svc.Synthesize(ctx, testDate))

	// Breaking article lands after synthesis.
	mock.News = append(mock.News, article("a2", "AAPL", "CEO resigns", time.Now().Add(time.Minute)))
	require.NoError(t, svc.Validate(ctx, testDate))

	syn := svc.SynthesisFor("AAPL", testDate)
	require.NotNil(t, syn)
	assert.True(t, syn.Stale)
	assert.InDelta(t, 0.4, syn.Confidence, 1e-9, "stale synthesis confidence halves")
	assert.Equal(t, RecommendBuy, syn.Recommendation, "recommendation is never rewritten")

	// Validation is idempotent: a second pass must not halve again.
	require.NoError(t, svc.Validate(ctx, testDate))
	syn = svc.SynthesisFor("AAPL", testDate)
	assert.InDelta(t, 0.4, syn.Confidence, 1e-9)
}

func TestValidateNoBreakingNewsKeepsConfidence(t *testing.T) {
	base := time.Now().Add(-3 * time.Hour)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "AAPL", "evening story", base)}

	model := llm.NewMockModel(`{"narrative": "n", "net_sentiment": "neutral", "confidence": 0.6, "recommendation": "HOLD", "reasoning": "r"}`)
	svc := NewService(mock, model, nil, 4)
	ctx := context.Background()

	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	require.NoError(t, svc.Synthesize(ctx, testDate))
	require.NoError(t, svc.Validate(ctx, testDate))

	syn := svc.SynthesisFor("AAPL", testDate)
	require.NotNil(t, syn)
	assert.False(t, syn.Stale)
	assert.InDelta(t, 0.6, syn.Confidence, 1e-9)
}

func TestProviderFailureSkipsSymbolNotSweep(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "MSFT", "h", base)}
	mock.FailNextOp = errors.New("provider down")

	svc := NewService(mock, llm.NewMockModel(), nil, 1)
	// First symbol's fetch fails; the sweep continues to the second.
	require.NoError(t, svc.Accumulate(context.Background(), []string{"AAPL", "MSFT"}, testDate, base.Add(-time.Hour)))

	assert.Empty(t, svc.RecentArticles("AAPL", testDate, 0))
	assert.Len(t, svc.RecentArticles("MSFT", testDate, 0), 1)
}

func TestRestoreRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	st := openStore(t)

	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "AAPL", "h", base)}
	svc := NewService(mock, llm.NewMockModel(), st, 4)
	require.NoError(t, svc.Accumulate(context.Background(), []string{"AAPL"}, testDate, base.Add(-time.Hour)))

	// Fresh service, same store: restart scenario.
	restored := NewService(mock, llm.NewMockModel(), st, 4)
	require.NoError(t, restored.Restore(testDate))
	articles := restored.RecentArticles("AAPL", testDate, 0)
	require.Len(t, articles, 1)
	assert.Equal(t, "h", articles[0].Headline)

	// Deduplication still works after restore.
	require.NoError(t, restored.Accumulate(context.Background(), []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	assert.Len(t, restored.RecentArticles("AAPL", testDate, 0), 1)
}

func TestDateRolloverResetsTimelines(t *testing.T) {
	base := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	mock := broker.NewMockBroker()
	mock.News = []broker.NewsArticle{article("a1", "AAPL", "h", base)}

	svc := NewService(mock, llm.NewMockModel(), nil, 4)
	ctx := context.Background()
	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, testDate, base.Add(-time.Hour)))
	require.NoError(t, svc.Accumulate(ctx, []string{"AAPL"}, "20260303", base.Add(-time.Hour)))

	assert.Nil(t, svc.RecentArticles("AAPL", testDate, 0), "old date state cleared")
	assert.Len(t, svc.RecentArticles("AAPL", "20260303", 0), 1)
}
