package news

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/response"
	"github.com/akindell/marketmind/internal/store"
)

const synthesisSystemPrompt = `You are a financial news analyst. You read a chronological sequence of
headlines for one stock and judge how the story evolved. You respond with
exactly one JSON object and no other text.`

// Service runs the three overnight news phases: accumulation, synthesis,
// validation. One Service instance covers one trading date at a time.
type Service struct {
	provider    broker.NewsProvider
	model       llm.Model
	persistence *store.Store
	fetchLimit  int
	limiter     *rate.Limiter
	logger      zerolog.Logger

	mu        sync.Mutex
	date      string
	timelines map[string]*Timeline
}

// NewService creates the news service. fetchLimit bounds concurrent
// provider calls; the limiter smooths request bursts across the universe.
func NewService(provider broker.NewsProvider, model llm.Model, persistence *store.Store, fetchLimit int) *Service {
	if fetchLimit <= 0 {
		fetchLimit = 8
	}
	return &Service{
		provider:    provider,
		model:       model,
		persistence: persistence,
		fetchLimit:  fetchLimit,
		limiter:     rate.NewLimiter(rate.Limit(10), 10),
		logger:      config.NewLogger("news"),
		timelines:   make(map[string]*Timeline),
	}
}

// timeline returns the tracked timeline for symbol on the current date,
// creating it if needed. A date rollover clears the previous day's state
// after persisting is assumed done by the caller.
func (s *Service) timeline(symbol, date string) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.date != date {
		s.date = date
		s.timelines = make(map[string]*Timeline)
	}
	t, ok := s.timelines[symbol]
	if !ok {
		t = newTimeline(symbol, date)
		s.timelines[symbol] = t
	}
	return t
}

// Accumulate pulls fresh news for every symbol and appends to the per-
// symbol timelines. Runs every 30 minutes between close and 02:00; purely
// mechanical, no model involvement.
func (s *Service) Accumulate(ctx context.Context, symbols []string, date string, since time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)

	var total int64
	var totalMu sync.Mutex

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			articles, err := s.provider.GetNews(gctx, []string{symbol}, since)
			if err != nil {
				// One symbol failing must not abort the sweep.
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("News fetch failed")
				return nil
			}
			added := s.timeline(symbol, date).addArticles(articles)
			if added > 0 {
				totalMu.Lock()
				total += int64(added)
				totalMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("news accumulation: %w", err)
	}

	s.logger.Info().Int64("new_articles", total).Int("symbols", len(symbols)).Msg("Accumulation sweep done")
	return s.persist(date)
}

// Synthesize asks the model to read each timeline that gathered articles
// and has no synthesis yet. Symbols run in parallel up to the fetch limit;
// the model client serializes actual calls.
func (s *Service) Synthesize(ctx context.Context, date string) error {
	pending := s.pendingSynthesis(date)
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for _, t := range pending {
		t := t
		g.Go(func() error {
			s.synthesizeOne(gctx, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("news synthesis: %w", err)
	}

	return s.persist(date)
}

func (s *Service) pendingSynthesis(date string) []*Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Timeline
	for _, t := range s.timelines {
		if s.date == date && len(t.Articles) > 0 && t.Synthesis == nil {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) synthesizedTimelines(date string) []*Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Timeline
	for _, t := range s.timelines {
		if s.date == date && t.Synthesis != nil {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) synthesizeOne(ctx context.Context, t *Timeline) {
	completion, err := s.model.CompleteText(ctx, synthesisSystemPrompt, buildSynthesisPrompt(t))
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Synthesis model call failed")
		return
	}

	synthesis, err := parseSynthesis(completion.Text)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Synthesis response rejected")
		return
	}
	synthesis.SynthesizedAt = time.Now()
	t.setSynthesis(*synthesis)

	s.logger.Info().
		Str("symbol", t.Symbol).
		Str("recommendation", synthesis.Recommendation).
		Float64("confidence", synthesis.Confidence).
		Msg("Timeline synthesized")
}

// buildSynthesisPrompt renders the chronological timeline with an explicit
// evolution-analysis instruction.
func buildSynthesisPrompt(t *Timeline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overnight news timeline for %s, in order:\n", t.Symbol)
	for _, a := range t.Articles {
		fmt.Fprintf(&b, "\n[%s] %s", a.Timestamp.Format("15:04"), a.Headline)
		if a.Summary != "" {
			fmt.Fprintf(&b, "\n  %s", a.Summary)
		}
	}
	b.WriteString(`

Analyze how this story evolved over the night. Detect contradictions
between earlier and later coverage. Produce a single recommendation with
a confidence.

Respond with one JSON object:
{
  "narrative": "<how the story developed, 2-3 sentences>",
  "net_sentiment": "bullish" | "bearish" | "neutral" | "mixed",
  "confidence": <0.0-1.0>,
  "key_themes": ["<theme>", ...],
  "contradictions": ["<contradiction>", ...],
  "recommendation": "BUY" | "SELL" | "HOLD" | "WAIT_FOR_CLARITY",
  "reasoning": "<why, 1-2 sentences>"
}`)
	return b.String()
}

func parseSynthesis(raw string) (*NarrativeSynthesis, error) {
	payload := response.ExtractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in synthesis response")
	}
	var synthesis NarrativeSynthesis
	if err := json.Unmarshal([]byte(payload), &synthesis); err != nil {
		return nil, fmt.Errorf("invalid synthesis JSON: %w", err)
	}
	switch synthesis.Recommendation {
	case RecommendBuy, RecommendSell, RecommendHold, RecommendWaitForClarity:
	default:
		return nil, fmt.Errorf("recommendation %q invalid", synthesis.Recommendation)
	}
	if synthesis.Confidence < 0 || synthesis.Confidence > 1 {
		return nil, fmt.Errorf("confidence %.2f outside [0, 1]", synthesis.Confidence)
	}
	return &synthesis, nil
}

// Validate pulls breaking news since each symbol's synthesis and marks
// syntheses stale when the story moved on. The recommendation itself is
// never rewritten this close to the open.
func (s *Service) Validate(ctx context.Context, date string) error {
	synthesized := s.synthesizedTimelines(date)
	if len(synthesized) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for _, t := range synthesized {
		t := t
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			cutoff := t.Synthesis.SynthesizedAt
			articles, err := s.provider.GetNews(gctx, []string{t.Symbol}, cutoff)
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Validation fetch failed")
				return nil
			}
			t.addArticles(articles)
			if breaking := t.articlesSince(cutoff); len(breaking) > 0 {
				t.markStale()
				s.logger.Info().
					Str("symbol", t.Symbol).
					Int("breaking", len(breaking)).
					Msg("Synthesis marked stale by breaking news")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("news validation: %w", err)
	}

	return s.persist(date)
}

// SynthesisFor returns the synthesis for symbol on the current date, or
// nil when none exists.
func (s *Service) SynthesisFor(symbol, date string) *NarrativeSynthesis {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.date != date {
		return nil
	}
	t, ok := s.timelines[symbol]
	if !ok || t.Synthesis == nil {
		return nil
	}
	out := *t.Synthesis
	return &out
}

// RecentArticles returns the day's articles for one symbol, newest last
func (s *Service) RecentArticles(symbol, date string, limit int) []broker.NewsArticle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.date != date {
		return nil
	}
	t, ok := s.timelines[symbol]
	if !ok {
		return nil
	}
	articles := t.Articles
	if limit > 0 && len(articles) > limit {
		articles = articles[len(articles)-limit:]
	}
	out := make([]broker.NewsArticle, len(articles))
	copy(out, articles)
	return out
}

// document is the persisted per-date shape
type document struct {
	Date      string      `json:"date"`
	Timelines []*Timeline `json:"timelines"`
}

func (s *Service) persist(date string) error {
	if s.persistence == nil {
		return nil
	}
	s.mu.Lock()
	doc := document{Date: date}
	for _, t := range s.timelines {
		doc.Timelines = append(doc.Timelines, t)
	}
	s.mu.Unlock()

	if err := s.persistence.SaveNewsDocument(date, doc); err != nil {
		return fmt.Errorf("persist news timelines: %w", err)
	}
	return nil
}

// Restore loads a previously persisted date, for process restarts during
// the overnight window.
func (s *Service) Restore(date string) error {
	if s.persistence == nil {
		return nil
	}
	var doc document
	found, err := s.persistence.LoadNewsDocument(date, &doc)
	if err != nil {
		return fmt.Errorf("restore news timelines: %w", err)
	}
	if !found {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = date
	s.timelines = make(map[string]*Timeline, len(doc.Timelines))
	for _, t := range doc.Timelines {
		s.timelines[t.Symbol] = t
	}
	return nil
}
