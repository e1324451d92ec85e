// Package overnight runs the after-hours work: iterative deep analysis of
// universe symbols, the weekly self-critique, the morning hand-off summary,
// and the premarket gap scan. Nothing here submits orders; conclusions reach
// the market only through the next day's trading cycle.
package overnight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/indicators"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/metrics"
	"github.com/akindell/marketmind/internal/news"
	"github.com/akindell/marketmind/internal/prompt"
	"github.com/akindell/marketmind/internal/response"
	"github.com/akindell/marketmind/internal/store"
	"github.com/akindell/marketmind/internal/universe"
)

// maxIterations bounds one deep-analysis session regardless of how much
// data the model keeps asking for.
const maxIterations = 15

// Deps are the analyst's collaborators. News and Universe are optional.
type Deps struct {
	Broker   broker.Broker
	Model    llm.Model
	Clock    *marketclock.Clock
	Store    *store.Store
	News     *news.Service
	Universe *universe.Manager
}

// Analyst owns the evening and premarket tasks
type Analyst struct {
	cfg       *config.Config
	broker    broker.Broker
	model     llm.Model
	clock     *marketclock.Clock
	store     *store.Store
	news      *news.Service
	universe  *universe.Manager
	engine    *indicators.Engine
	assembler *prompt.Assembler
	parser    *response.Parser
	profile   prompt.Profile
	logger    zerolog.Logger
}

// New creates an analyst
func New(cfg *config.Config, deps Deps) *Analyst {
	if deps.Universe == nil {
		deps.Universe = universe.NewManager(cfg.Universe)
	}
	return &Analyst{
		cfg:       cfg,
		broker:    deps.Broker,
		model:     deps.Model,
		clock:     deps.Clock,
		store:     deps.Store,
		news:      deps.News,
		universe:  deps.Universe,
		engine:    indicators.NewEngine(config.NewLogger("indicators")),
		assembler: prompt.NewAssembler(),
		parser:    response.NewParser(),
		profile:   prompt.Profile(cfg.Trading.Profile),
		logger:    config.NewLogger("overnight"),
	}
}

// EveningDeepLearning runs one iterative analysis session per universe
// symbol, holdings first. Sessions are serial; the model concurrency budget
// is one regardless.
func (a *Analyst) EveningDeepLearning(ctx context.Context) error {
	positions, err := a.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("evening analysis: %w", err)
	}
	held := make(map[string]broker.Position, len(positions))
	var holdings []string
	for _, p := range positions {
		held[p.Symbol] = p
		holdings = append(holdings, p.Symbol)
	}

	entries := a.universe.Build(holdings, a.cfg.Trading.Symbols)
	if len(entries) == 0 {
		a.logger.Info().Msg("Nothing in the universe to analyze tonight")
		return nil
	}

	for _, entry := range entries {
		var pos *broker.Position
		if p, ok := held[entry.Symbol]; ok {
			pos = &p
		}
		if err := a.runSession(ctx, entry.Symbol, pos); err != nil {
			if llm.IsUnavailable(err) {
				a.logger.Warn().Err(err).Msg("Model unavailable, ending evening analysis")
				return nil
			}
			a.logger.Error().Err(err).Str("symbol", entry.Symbol).Msg("Deep analysis session failed")
		}
	}
	return nil
}

// runSession drives one model conversation to a conclusion: the model may
// request more data up to the iteration limit, then must decide. pos is nil
// for universe symbols the portfolio does not hold.
func (a *Analyst) runSession(ctx context.Context, symbol string, pos *broker.Position) error {
	sctx, cancel := context.WithTimeout(ctx, a.cfg.ModelSessionTimeout())
	defer cancel()

	now := a.clock.Now()
	snap := a.snapshot(sctx, symbol)

	queryType := prompt.QueryNewOpportunity
	var price float64
	if pos != nil {
		queryType = prompt.QueryPositionReview
		price = pos.CurrentPrice
	} else if p, err := a.broker.GetLatestPrice(sctx, symbol); err == nil {
		price = p
	}

	qc := &prompt.QueryContext{
		QueryType:      queryType,
		Trigger:        prompt.TriggerScheduledCycle,
		Profile:        a.profile,
		PrimarySymbol:  symbol,
		ExpectedFormat: prompt.FormatDataRequest,
		IncludeNews:    a.news != nil,
		DetailLevel:    prompt.DetailDetailed,
		Technical:      snap,
		Position:       pos,
		News:           a.newsContext(symbol, now),
	}
	opening, err := a.assembler.Build(qc)
	if err != nil {
		return err
	}

	conv := []llm.ChatMessage{
		{Role: "system", Content: prompt.SystemPrompt},
		{Role: "user", Content: opening},
	}

	var decision *response.Decision
	iterations := 0
	for iterations < maxIterations {
		iterations++

		comp, err := a.model.Complete(sctx, conv)
		if err != nil {
			return err
		}
		conv = append(conv, llm.ChatMessage{Role: "assistant", Content: comp.Text})

		result := a.parser.Parse(response.ParseInput{
			Raw:           comp.Text,
			Format:        prompt.FormatDataRequest,
			QueryType:     queryType,
			Trigger:       prompt.TriggerScheduledCycle,
			Symbol:        symbol,
			PriceSnapshot: price,
			Timestamp:     now,
		})

		switch {
		case result.Ok() && result.DataRequest != nil:
			reply := a.fulfill(sctx, symbol, now, result.DataRequest.RequestedData)
			conv = append(conv, llm.ChatMessage{Role: "user", Content: reply})
		case result.Ok() && result.Decision != nil:
			decision = result.Decision
		default:
			// Malformed turn: restate the contract and let the limit
			// bound how long this can go on.
			conv = append(conv, llm.ChatMessage{
				Role:    "user",
				Content: "Your last reply did not match either schema. Respond with the standard decision object, or with a needs_more_data request.",
			})
		}
		if decision != nil {
			break
		}
	}

	metrics.OvernightIterations.Observe(float64(iterations))

	rec := a.buildRecord(symbol, now, iterations, conv, decision)
	if err := a.store.SaveOvernightAnalysis(sctx, rec); err != nil {
		return err
	}
	if err := a.store.AppendConversation(map[string]any{
		"symbol":     symbol,
		"date":       rec.Date,
		"iterations": iterations,
		"messages":   conv,
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Conversation stream append failed")
	}

	a.logger.Info().
		Str("symbol", symbol).
		Int("iterations", iterations).
		Str("action", rec.Action).
		Float64("confidence", rec.Confidence).
		Msg("Deep analysis complete")
	return nil
}

// buildRecord converts a finished session into its storage row. A session
// that hit the iteration limit without deciding records a zero-confidence
// hold so the morning hand-off sees it was attempted.
func (a *Analyst) buildRecord(symbol string, now time.Time, iterations int, conv []llm.ChatMessage, decision *response.Decision) *store.OvernightRecord {
	convJSON, _ := json.Marshal(conv)
	rec := &store.OvernightRecord{
		Symbol:           symbol,
		Date:             now.Format("2006-01-02"),
		Timestamp:        now,
		Iterations:       iterations,
		Depth:            sessionDepth(iterations),
		ConversationJSON: string(convJSON),
		Action:           "hold",
		Confidence:       0,
		Reasoning:        "iteration limit reached without a decision",
	}
	if decision != nil {
		rec.Action = decision.Action
		rec.Confidence = float64(decision.Confidence)
		rec.Reasoning = decision.Reasoning
	}
	return rec
}

func sessionDepth(iterations int) string {
	switch {
	case iterations <= 2:
		return "shallow"
	case iterations <= 6:
		return "standard"
	default:
		return "deep"
	}
}

// fulfill answers a data request. Only allow-listed items are served;
// anything else is reported unavailable rather than improvised.
func (a *Analyst) fulfill(ctx context.Context, symbol string, now time.Time, requested []string) string {
	var b strings.Builder
	b.WriteString("REQUESTED DATA:")
	seen := make(map[string]bool)
	for _, raw := range requested {
		key := strings.ToLower(strings.TrimSpace(raw))
		if seen[key] {
			continue
		}
		seen[key] = true

		body, err := a.fetchData(ctx, symbol, now, key)
		if err != nil {
			a.logger.Warn().Err(err).Str("item", key).Msg("Data fetch failed")
			body = "fetch failed, treat as unavailable"
		}
		fmt.Fprintf(&b, "\n\n== %s ==\n%s", key, body)
	}
	b.WriteString("\n\nDecide now if you can; request more data only if it would change the decision.")
	return b.String()
}

func (a *Analyst) fetchData(ctx context.Context, symbol string, now time.Time, key string) (string, error) {
	switch key {
	case "price_history":
		return a.priceHistory(ctx, symbol, now)
	case "volume_profile":
		return a.volumeProfile(ctx, symbol, now)
	case "support_resistance":
		snap := a.snapshot(ctx, symbol)
		if snap == nil {
			return "not enough bars to derive levels", nil
		}
		return fmt.Sprintf("Support: %s | Resistance: %s | Bollinger: %s / %s",
			optFmt(snap.Support), optFmt(snap.Resistance),
			optFmt(snap.BollingerLower), optFmt(snap.BollingerUpper)), nil
	case "recent_trades":
		return a.recentTrades(ctx, symbol, now)
	case "news_timeline":
		return a.newsTimelineText(symbol, now), nil
	case "sector_performance":
		return a.sectorPerformance(ctx, now)
	default:
		return "no data source available for this item", nil
	}
}

func (a *Analyst) priceHistory(ctx context.Context, symbol string, now time.Time) (string, error) {
	bars, err := a.broker.GetBars(ctx, symbol, now.AddDate(0, 0, -45), now, broker.TimeframeDay)
	if err != nil {
		return "", err
	}
	if len(bars) == 0 {
		return "no bars available", nil
	}
	if len(bars) > 30 {
		bars = bars[len(bars)-30:]
	}
	var b strings.Builder
	b.WriteString("date       close      volume")
	for _, bar := range bars {
		fmt.Fprintf(&b, "\n%s %9.2f %11.0f", bar.Timestamp.Format("2006-01-02"), bar.Close, bar.Volume)
	}
	return b.String(), nil
}

func (a *Analyst) volumeProfile(ctx context.Context, symbol string, now time.Time) (string, error) {
	bars, err := a.broker.GetBars(ctx, symbol, now.AddDate(0, 0, -30), now, broker.TimeframeDay)
	if err != nil {
		return "", err
	}
	if len(bars) < 2 {
		return "not enough bars for a volume profile", nil
	}

	var total, upVolume float64
	for i, bar := range bars {
		total += bar.Volume
		if i > 0 && bar.Close > bars[i-1].Close {
			upVolume += bar.Volume
		}
	}
	avg := total / float64(len(bars))
	latest := bars[len(bars)-1].Volume
	return fmt.Sprintf(
		"Average daily volume: %.0f | Latest session: %.0f (%.2fx average)\nVolume on up days: %.0f%% of total",
		avg, latest, latest/avg, upVolume/total*100), nil
}

func (a *Analyst) recentTrades(ctx context.Context, symbol string, now time.Time) (string, error) {
	recs, err := a.store.DecisionsSince(ctx, now.AddDate(0, 0, -14))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	count := 0
	for _, r := range recs {
		if r.Symbol != symbol || !r.Executed {
			continue
		}
		count++
		fmt.Fprintf(&b, "%s %s %d sh @ $%.2f conf %d",
			r.Timestamp.Format("2006-01-02"), r.Action, r.Shares, r.PriceSnapshot, r.Confidence)
		if r.OutcomePnL != nil {
			fmt.Fprintf(&b, " -> $%.2f", *r.OutcomePnL)
		}
		b.WriteString("\n")
	}
	if count == 0 {
		return "no executed trades in this symbol over the last two weeks", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *Analyst) newsTimelineText(symbol string, now time.Time) string {
	if a.news == nil {
		return "news pipeline not configured"
	}
	articles := a.news.RecentArticles(symbol, now.Format("20060102"), 10)
	if len(articles) == 0 {
		return "no articles accumulated today"
	}
	var b strings.Builder
	for i, art := range articles {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s (%s)", art.Timestamp.Format("15:04"), art.Headline, art.Source)
	}
	return b.String()
}

func (a *Analyst) sectorPerformance(ctx context.Context, now time.Time) (string, error) {
	etfs := []string{"XLK", "XLF", "XLV", "XLE", "XLY", "XLI"}
	var b strings.Builder
	for _, etf := range etfs {
		bars, err := a.broker.GetBars(ctx, etf, now.AddDate(0, 0, -30), now, broker.TimeframeDay)
		if err != nil || len(bars) < 2 {
			fmt.Fprintf(&b, "%s: data unavailable\n", etf)
			continue
		}
		first, last := bars[0].Close, bars[len(bars)-1].Close
		fmt.Fprintf(&b, "%s: %+.2f%% over %d sessions\n", etf, (last-first)/first*100, len(bars))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// snapshot computes indicators from recent daily bars, best effort
func (a *Analyst) snapshot(ctx context.Context, symbol string) *indicators.Snapshot {
	now := a.clock.Now()
	bars, err := a.broker.GetBars(ctx, symbol, now.AddDate(0, 0, -200), now, broker.TimeframeDay)
	if err != nil || len(bars) == 0 {
		return nil
	}
	snap, _ := a.engine.Compute(symbol, bars)
	return snap
}

func (a *Analyst) newsContext(symbol string, now time.Time) *prompt.NewsContext {
	if a.news == nil {
		return nil
	}
	date := now.Format("20060102")
	syn := a.news.SynthesisFor(symbol, date)
	articles := a.news.RecentArticles(symbol, date, 5)
	if syn == nil && len(articles) == 0 {
		return nil
	}
	nc := &prompt.NewsContext{}
	if syn != nil {
		nc.Narrative = syn.Narrative
		nc.NetSentiment = syn.NetSentiment
		nc.Confidence = syn.Confidence
		nc.KeyThemes = syn.KeyThemes
		nc.Contradictions = syn.Contradictions
		nc.Recommendation = string(syn.Recommendation)
		nc.Stale = syn.Stale
	}
	for _, art := range articles {
		nc.Headlines = append(nc.Headlines, prompt.Headline{
			Time:   art.Timestamp,
			Text:   art.Headline,
			Source: art.Source,
		})
	}
	return nc
}

func optFmt(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("$%.2f", *v)
}
