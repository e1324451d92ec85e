package overnight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/store"
	"github.com/akindell/marketmind/internal/universe"
)

// gapThresholdPct is the overnight move that makes a symbol a gap candidate
const gapThresholdPct = 2.0

// CritiqueArtifact is one weekly self-critique entry
type CritiqueArtifact struct {
	Timestamp  time.Time `json:"timestamp"`
	WeekEnding string    `json:"week_ending"`
	Decisions  int       `json:"decisions"`
	Executed   int       `json:"executed"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	NetPnL     float64   `json:"net_pnl"`
	Critique   string    `json:"critique"`
	Model      string    `json:"model"`
}

// WeeklySelfCritique reviews the last seven days of decisions and records
// the model's critique of its own trading.
func (a *Analyst) WeeklySelfCritique(ctx context.Context) error {
	now := a.clock.Now()
	decisions, err := a.store.DecisionsSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return fmt.Errorf("self critique: %w", err)
	}
	if len(decisions) == 0 {
		a.logger.Info().Msg("No decisions this week, skipping self critique")
		return nil
	}

	artifact := CritiqueArtifact{
		Timestamp:  now,
		WeekEnding: now.Format("2006-01-02"),
		Decisions:  len(decisions),
	}
	var worst []string
	for _, d := range decisions {
		if d.Executed {
			artifact.Executed++
		}
		if d.OutcomePnL == nil {
			continue
		}
		artifact.NetPnL += *d.OutcomePnL
		if *d.OutcomePnL > 0 {
			artifact.Wins++
		} else {
			artifact.Losses++
			worst = append(worst, fmt.Sprintf("%s %s conf %d -> $%.2f: %s",
				d.Symbol, d.Action, d.Confidence, *d.OutcomePnL, d.Reasoning))
		}
	}
	if len(worst) > 5 {
		worst = worst[:5]
	}

	userPrompt := fmt.Sprintf(`Critique your own trading over the past week.
Decisions: %d | Executed: %d | Wins: %d | Losses: %d | Net P&L: $%.2f

Losing trades and their stated reasoning:
%s

Identify the recurring mistake most worth fixing, whether confidence
levels matched outcomes, and one concrete rule to apply next week.
Respond in plain prose, 4-6 sentences.`,
		artifact.Decisions, artifact.Executed, artifact.Wins, artifact.Losses, artifact.NetPnL,
		bulletList(worst))

	comp, err := a.model.CompleteText(ctx, "You are reviewing your own past trading decisions with full honesty.", userPrompt)
	if err != nil {
		return fmt.Errorf("self critique: %w", err)
	}
	artifact.Critique = comp.Text
	artifact.Model = comp.Model

	if err := a.store.AppendCritique(artifact); err != nil {
		return err
	}
	if err := a.store.SaveLesson(ctx, &store.LessonRecord{
		Timestamp: now,
		Source:    "self_critique",
		Lesson:    comp.Text,
	}); err != nil {
		return err
	}
	a.logger.Info().Int("decisions", artifact.Decisions).Msg("Weekly self critique recorded")
	return nil
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SummaryRecommendation is one overnight conclusion surfaced at the open
type SummaryRecommendation struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Depth      string  `json:"depth"`
	Reasoning  string  `json:"reasoning"`
}

// NewsCall is one narrative-synthesis verdict surfaced at the open
type NewsCall struct {
	Symbol         string  `json:"symbol"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Stale          bool    `json:"stale"`
}

// MorningSummary is the hand-off document written before premarket prep
type MorningSummary struct {
	Date            string                  `json:"date"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Recommendations []SummaryRecommendation `json:"recommendations"`
	NewsCalls       []NewsCall              `json:"news_calls"`
	GapCandidates   []GapCandidate          `json:"gap_candidates,omitempty"`
	EarningsNote    string                  `json:"earnings_note,omitempty"`
}

// MorningHandoff assembles the overnight conclusions into one summary the
// operator and the trading day both start from.
func (a *Analyst) MorningHandoff(ctx context.Context) error {
	now := a.clock.Now()
	evening := now.AddDate(0, 0, -1)

	recs, err := a.store.OvernightAnalysesOn(ctx, evening.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("morning handoff: %w", err)
	}

	summary := MorningSummary{
		Date:        now.Format("2006-01-02"),
		GeneratedAt: now,
	}
	for _, rec := range recs {
		summary.Recommendations = append(summary.Recommendations, SummaryRecommendation{
			Symbol:     rec.Symbol,
			Action:     rec.Action,
			Confidence: rec.Confidence,
			Depth:      rec.Depth,
			Reasoning:  rec.Reasoning,
		})
	}

	if a.news != nil {
		date := evening.Format("20060102")
		symbols := make(map[string]bool)
		for _, rec := range recs {
			symbols[rec.Symbol] = true
		}
		for _, s := range a.cfg.Trading.Symbols {
			symbols[s] = true
		}
		for symbol := range symbols {
			syn := a.news.SynthesisFor(symbol, date)
			if syn == nil {
				continue
			}
			summary.NewsCalls = append(summary.NewsCalls, NewsCall{
				Symbol:         symbol,
				Recommendation: string(syn.Recommendation),
				Confidence:     syn.Confidence,
				Stale:          syn.Stale,
			})
		}
		sort.Slice(summary.NewsCalls, func(i, j int) bool {
			return summary.NewsCalls[i].Symbol < summary.NewsCalls[j].Symbol
		})
	}

	// An early gap check against the universe; the 07:00 scanner repeats it
	// with fresher premarket prices.
	var holdings []string
	if positions, err := a.broker.GetPositions(ctx); err == nil {
		for _, p := range positions {
			holdings = append(holdings, p.Symbol)
		}
	}
	for _, entry := range a.universe.Build(holdings, a.cfg.Trading.Symbols) {
		if candidate, ok := a.gapCheck(ctx, entry.Symbol, now); ok {
			summary.GapCandidates = append(summary.GapCandidates, candidate)
		}
	}
	summary.EarningsNote = "no earnings data provider configured"

	if err := a.store.AppendOvernightSummary(summary); err != nil {
		return err
	}
	a.logger.Info().
		Int("recommendations", len(summary.Recommendations)).
		Int("news_calls", len(summary.NewsCalls)).
		Int("gap_candidates", len(summary.GapCandidates)).
		Msg("Morning handoff written")
	return nil
}

// GapCandidate is one symbol gapping against yesterday's close
type GapCandidate struct {
	Symbol    string  `json:"symbol"`
	PrevClose float64 `json:"prev_close"`
	Price     float64 `json:"price"`
	GapPct    float64 `json:"gap_pct"`
}

// PremarketScan is the artifact one scanner run appends
type PremarketScan struct {
	Date       string         `json:"date"`
	ScannedAt  time.Time      `json:"scanned_at"`
	Candidates []GapCandidate `json:"candidates"`
}

// PremarketScanner flags symbols gapping beyond the threshold against the
// prior close and promotes gappers into the tracked universe.
func (a *Analyst) PremarketScanner(ctx context.Context) error {
	now := a.clock.Now()

	var holdings []string
	if positions, err := a.broker.GetPositions(ctx); err == nil {
		for _, p := range positions {
			holdings = append(holdings, p.Symbol)
		}
	}
	entries := a.universe.Build(holdings, a.cfg.Trading.Symbols)

	scan := PremarketScan{Date: now.Format("2006-01-02"), ScannedAt: now}
	var promoted []string
	for _, entry := range entries {
		candidate, ok := a.gapCheck(ctx, entry.Symbol, now)
		if !ok {
			continue
		}
		scan.Candidates = append(scan.Candidates, candidate)
		if candidate.GapPct > 0 {
			promoted = append(promoted, candidate.Symbol)
		}
		a.logger.Info().
			Str("symbol", candidate.Symbol).
			Float64("gap_pct", candidate.GapPct).
			Msg("Premarket gap detected")
	}
	if len(promoted) > 0 {
		a.universe.Promote(promoted, universe.ReasonRecentMover)
	}

	if err := a.store.AppendPremarketScan(scan); err != nil {
		return err
	}
	a.logger.Info().Int("candidates", len(scan.Candidates)).Msg("Premarket scan complete")
	return nil
}

func (a *Analyst) gapCheck(ctx context.Context, symbol string, now time.Time) (GapCandidate, bool) {
	bars, err := a.broker.GetBars(ctx, symbol, now.AddDate(0, 0, -7), now, broker.TimeframeDay)
	if err != nil || len(bars) == 0 {
		return GapCandidate{}, false
	}
	prevClose := bars[len(bars)-1].Close
	if prevClose <= 0 {
		return GapCandidate{}, false
	}
	price, err := a.broker.GetLatestPrice(ctx, symbol)
	if err != nil || price <= 0 {
		return GapCandidate{}, false
	}
	gap := (price - prevClose) / prevClose * 100
	if gap < gapThresholdPct && gap > -gapThresholdPct {
		return GapCandidate{}, false
	}
	return GapCandidate{Symbol: symbol, PrevClose: prevClose, Price: price, GapPct: gap}, true
}

// EarningsAnalysis records a placeholder artifact. There is no earnings
// calendar collaborator configured; the task exists so the schedule slot
// and stream are stable once one is added.
func (a *Analyst) EarningsAnalysis(ctx context.Context) error {
	artifact := map[string]any{
		"date": a.clock.Now().Format("2006-01-02"),
		"note": "no earnings data provider configured",
	}
	if err := a.store.AppendEarningsAnalysis(artifact); err != nil {
		return err
	}
	a.logger.Info().Msg("Earnings analysis skipped, no data provider")
	return nil
}
