package news

import (
	"sort"
	"sync"
	"time"

	"github.com/akindell/marketmind/internal/broker"
)

// Recommendation values a synthesis may carry
const (
	RecommendBuy            = "BUY"
	RecommendSell           = "SELL"
	RecommendHold           = "HOLD"
	RecommendWaitForClarity = "WAIT_FOR_CLARITY"
)

// NarrativeSynthesis is the model's reading of one symbol's overnight
// news flow.
type NarrativeSynthesis struct {
	Narrative      string    `json:"narrative"`
	NetSentiment   string    `json:"net_sentiment"` // bullish | bearish | neutral | mixed
	Confidence     float64   `json:"confidence"`    // 0..1
	KeyThemes      []string  `json:"key_themes"`
	Contradictions []string  `json:"contradictions"`
	Recommendation string    `json:"recommendation"`
	Reasoning      string    `json:"reasoning"`
	SynthesizedAt  time.Time `json:"synthesized_at"`
	Stale          bool      `json:"stale"`
}

// Timeline is the ordered news record for one (symbol, trading date).
// The first synthesis is authoritative for the day; later syntheses
// append as revisions and never overwrite it.
type Timeline struct {
	Symbol    string               `json:"symbol"`
	Date      string               `json:"date"` // YYYYMMDD, market timezone
	Articles  []broker.NewsArticle `json:"articles"`
	Synthesis *NarrativeSynthesis  `json:"synthesis,omitempty"`
	Revisions []NarrativeSynthesis `json:"revisions,omitempty"`

	mu   sync.Mutex
	seen map[string]bool
}

func newTimeline(symbol, date string) *Timeline {
	return &Timeline{Symbol: symbol, Date: date, seen: make(map[string]bool)}
}

// addArticles appends new articles, dropping duplicates by id, and keeps
// the sequence in timestamp order. Returns how many were new.
func (t *Timeline) addArticles(articles []broker.NewsArticle) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen == nil {
		t.seen = make(map[string]bool, len(t.Articles))
		for _, a := range t.Articles {
			t.seen[a.ID] = true
		}
	}

	added := 0
	for _, a := range articles {
		if a.ID == "" || t.seen[a.ID] {
			continue
		}
		t.seen[a.ID] = true
		t.Articles = append(t.Articles, a)
		added++
	}
	if added > 0 {
		sort.SliceStable(t.Articles, func(i, j int) bool {
			return t.Articles[i].Timestamp.Before(t.Articles[j].Timestamp)
		})
	}
	return added
}

// setSynthesis stores the first synthesis of the day; subsequent calls
// append a revision.
func (t *Timeline) setSynthesis(s NarrativeSynthesis) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Synthesis == nil {
		t.Synthesis = &s
		return
	}
	t.Revisions = append(t.Revisions, s)
}

// markStale halves the synthesis confidence without touching the
// recommendation. Idempotent.
func (t *Timeline) markStale() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Synthesis == nil || t.Synthesis.Stale {
		return
	}
	t.Synthesis.Stale = true
	t.Synthesis.Confidence *= 0.5
}

// articlesSince returns articles with timestamps strictly after cutoff
func (t *Timeline) articlesSince(cutoff time.Time) []broker.NewsArticle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []broker.NewsArticle
	for _, a := range t.Articles {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}
