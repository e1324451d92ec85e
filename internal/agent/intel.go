package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/indicators"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/prompt"
	"github.com/akindell/marketmind/internal/response"
	"github.com/akindell/marketmind/internal/store"
	"github.com/akindell/marketmind/internal/universe"
)

// indexSymbol anchors market-regime reads
const indexSymbol = "SPY"

// sectorETFs are the SPDR sector funds compared during rotation analysis
var sectorETFs = []string{
	"XLK", "XLF", "XLV", "XLE", "XLY", "XLI", "XLP", "XLU", "XLB", "XLRE", "XLC",
}

// QuickMarketIntelligence classifies the current market regime from index
// technicals. The result is cached and rendered into subsequent trading
// prompts until the next read.
func (a *Agent) QuickMarketIntelligence(ctx context.Context) error {
	_, snap := a.marketData(ctx, indexSymbol, nil)
	if snap == nil {
		return fmt.Errorf("market intelligence: no index data for %s", indexSymbol)
	}

	qc := &prompt.QueryContext{
		QueryType:      prompt.QueryMarketRegime,
		Trigger:        prompt.TriggerScheduledCycle,
		Profile:        a.profile,
		PrimarySymbol:  indexSymbol,
		ExpectedFormat: prompt.FormatStandardDecision,
		DetailLevel:    prompt.DetailStandard,
		Regime: &prompt.RegimeContext{
			Label:         "unclassified",
			IndexTrend:    snap.Signals.Trend,
			VolatilityTag: volatilityTag(snap),
			Notes:         "Index state: " + indexNotes(snap),
		},
	}

	result, comp, err := a.runIntelQuery(ctx, qc)
	if err != nil || result == nil {
		return err
	}
	d := result.Decision

	regime := &prompt.RegimeContext{
		Label:         regimeLabel(d.Sentiment),
		IndexTrend:    strings.ToUpper(d.Sentiment),
		VolatilityTag: volatilityTag(snap),
		Notes:         d.Reasoning,
	}
	a.setRegime(regime)
	a.logger.Info().
		Str("label", regime.Label).
		Str("volatility", regime.VolatilityTag).
		Int("confidence", d.Confidence).
		Str("model", comp.Model).
		Msg("Market regime updated")
	return nil
}

// DeepSectorAnalysis compares the sector funds head to head and promotes
// the winning sector's leaders into the tracked universe.
func (a *Agent) DeepSectorAnalysis(ctx context.Context) error {
	var entries []prompt.ComparativeEntry
	for _, symbol := range sectorETFs {
		_, snap := a.marketData(ctx, symbol, nil)
		entries = append(entries, prompt.ComparativeEntry{Symbol: symbol, Snapshot: snap})
	}
	_, indexSnap := a.marketData(ctx, indexSymbol, nil)

	qc := &prompt.QueryContext{
		QueryType:         prompt.QuerySectorRotation,
		Trigger:           prompt.TriggerScheduledCycle,
		Profile:           a.profile,
		ComparisonSymbols: sectorETFs,
		ExpectedFormat:    prompt.FormatComparison,
		DetailLevel:       prompt.DetailStandard,
		Technical:         indexSnap,
		Comparative:       entries,
		Regime:            a.cachedRegime(),
	}

	result, _, err := a.runIntelQuery(ctx, qc)
	if err != nil || result == nil {
		return err
	}
	cmp := result.Comparison

	a.universe.Promote([]string{cmp.Winner.Symbol}, universe.ReasonRecentMover)
	a.logger.Info().
		Str("winner", cmp.Winner.Symbol).
		Int("score", cmp.Winner.Score).
		Msg("Sector rotation analysis complete")
	return nil
}

// PreCloseAssessment ranks every held position shortly before the close.
// Sell rankings are advisory for tomorrow's overnight work; no orders are
// placed here.
func (a *Agent) PreCloseAssessment(ctx context.Context) error {
	account, err := a.refreshAccount(ctx)
	if err != nil {
		return fmt.Errorf("pre-close assessment: %w", err)
	}
	if len(account.Positions) == 0 {
		a.logger.Info().Msg("No positions to assess before close")
		return nil
	}

	qc := &prompt.QueryContext{
		QueryType:           prompt.QueryPortfolioAudit,
		Trigger:             prompt.TriggerScheduledCycle,
		Profile:             a.profile,
		ExpectedFormat:      prompt.FormatRanking,
		DetailLevel:         prompt.DetailStandard,
		Portfolio:           portfolioState(account),
		Regime:              a.cachedRegime(),
		IncludeMarketRegime: true,
	}

	result, _, err := a.runIntelQuery(ctx, qc)
	if err != nil || result == nil {
		return err
	}

	for _, rp := range result.Ranking.RankedPositions {
		if rp.Action == "sell" {
			a.logger.Warn().
				Str("symbol", rp.Symbol).
				Int("rank", rp.Rank).
				Str("reason", rp.Reason).
				Msg("Pre-close ranking flags position for exit")
		}
	}
	return nil
}

// DailySummary aggregates the day's decisions, refreshes discovered
// patterns, and records a short model-written recap.
func (a *Agent) DailySummary(ctx context.Context) error {
	now := a.clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	decisions, err := a.store.DecisionsSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("daily summary: %w", err)
	}

	var executed, wins, closes int
	var pnl float64
	for _, d := range decisions {
		if d.Executed {
			executed++
		}
		if d.OutcomePnL != nil {
			closes++
			pnl += *d.OutcomePnL
			if *d.OutcomePnL > 0 {
				wins++
			}
		}
	}
	winRate := 0.0
	if closes > 0 {
		winRate = float64(wins) / float64(closes)
	}

	regime := ""
	if r := a.cachedRegime(); r != nil {
		regime = r.Label
	}
	perf := &store.DailyPerformance{
		Date:    now.Format("2006-01-02"),
		PnL:     pnl,
		WinRate: winRate,
		Trades:  executed,
		Regime:  regime,
	}
	if err := a.store.UpsertDailyPerformance(ctx, perf); err != nil {
		return a.storageFailure(ctx, "", err)
	}

	if err := a.refreshPatterns(ctx, now); err != nil {
		return err
	}

	recap, err := a.narrateDay(ctx, perf, len(decisions))
	if err != nil {
		// The aggregates are durable; the narrative is a nice-to-have.
		a.logger.Warn().Err(err).Msg("Daily recap narration failed")
		return nil
	}
	a.logger.Info().Str("recap", recap).Msg("Daily summary recorded")
	return nil
}

// refreshPatterns re-mines the last 30 days of closed decisions
func (a *Agent) refreshPatterns(ctx context.Context, now time.Time) error {
	history, err := a.store.DecisionsSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return fmt.Errorf("pattern refresh: %w", err)
	}
	for _, p := range store.DiscoverPatterns(history, now) {
		rec := p
		if err := a.store.SavePattern(ctx, &rec); err != nil {
			return a.storageFailure(ctx, "", err)
		}
	}
	return nil
}

func (a *Agent) narrateDay(ctx context.Context, perf *store.DailyPerformance, totalDecisions int) (string, error) {
	userPrompt := fmt.Sprintf(
		"Write a three-sentence trading day recap.\nDate: %s\nDecisions: %d\nTrades executed: %d\nClosed P&L: $%.2f\nWin rate: %.0f%%\nRegime: %s\nRespond with plain prose, no JSON.",
		perf.Date, totalDecisions, perf.Trades, perf.PnL, perf.WinRate*100, perf.Regime)

	comp, err := a.completeModel(ctx, userPrompt)
	if err != nil {
		return "", err
	}
	rec := &store.InteractionRecord{
		Timestamp:        a.clock.Now(),
		Symbol:           "",
		QueryType:        "DAILY_SUMMARY",
		Model:            comp.Model,
		Prompt:           userPrompt,
		Response:         comp.Text,
		Classification:   "narrative",
		LatencyMs:        comp.LatencyMs,
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
	}
	if err := a.store.RecordInteraction(ctx, rec); err != nil {
		return "", a.storageFailure(ctx, "", err)
	}
	return comp.Text, nil
}

// runIntelQuery assembles, completes, parses, and records one non-trading
// analysis exchange. A nil result with nil error means the response was
// unusable and has been logged.
func (a *Agent) runIntelQuery(ctx context.Context, qc *prompt.QueryContext) (*response.Result, *llm.Completion, error) {
	userPrompt, err := a.assembler.Build(qc)
	if err != nil {
		return nil, nil, err
	}

	comp, err := a.completeModel(ctx, userPrompt)
	if err != nil {
		if llm.IsUnavailable(err) {
			a.logger.Warn().Err(err).Str("query_type", string(qc.QueryType)).Msg("Model unavailable, analysis skipped")
			return nil, nil, nil
		}
		return nil, nil, err
	}

	symbol := qc.PrimarySymbol
	result := a.parser.Parse(response.ParseInput{
		Raw:       comp.Text,
		Format:    qc.ExpectedFormat,
		QueryType: qc.QueryType,
		Trigger:   qc.Trigger,
		Symbol:    symbol,
		Timestamp: a.clock.Now(),
	})
	if err := a.recordInteraction(ctx, symbol, qc.QueryType, userPrompt, comp, string(result.Status)); err != nil {
		return nil, nil, err
	}
	if !result.Ok() {
		a.logger.Warn().
			Str("query_type", string(qc.QueryType)).
			Str("status", string(result.Status)).
			Msg("Analysis response unusable")
		return nil, nil, nil
	}
	return result, comp, nil
}

// Status is the operator-facing snapshot served by the status command
type Status struct {
	State       string             `json:"state"`
	Halted      bool               `json:"halted"`
	Equity      float64            `json:"equity"`
	Cash        float64            `json:"cash"`
	BuyingPower float64            `json:"buying_power"`
	ExposurePct float64            `json:"exposure_pct"`
	Positions   []broker.Position  `json:"positions"`
	TradesToday int                `json:"trades_today"`
	Regime      *prompt.RegimeContext `json:"regime,omitempty"`
}

// CurrentStatus reads the account and assembles the operator snapshot
func (a *Agent) CurrentStatus(ctx context.Context) (*Status, error) {
	account, err := a.refreshAccount(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	trades := a.day.trades
	a.mu.Unlock()

	exposure := 0.0
	if account.Equity > 0 {
		exposure = account.GrossExposure() / account.Equity * 100
	}
	return &Status{
		State:       string(a.clock.CurrentState(ctx)),
		Halted:      a.Halted(),
		Equity:      account.Equity,
		Cash:        account.Cash,
		BuyingPower: account.BuyingPower,
		ExposurePct: exposure,
		Positions:   account.Positions,
		TradesToday: trades,
		Regime:      a.cachedRegime(),
	}, nil
}

// MarshalJSON-friendly helpers

func portfolioState(account *broker.AccountState) *prompt.PortfolioState {
	exposure := 0.0
	if account.Equity > 0 {
		exposure = account.GrossExposure() / account.Equity * 100
	}
	return &prompt.PortfolioState{
		Equity:      account.Equity,
		Cash:        account.Cash,
		BuyingPower: account.BuyingPower,
		ExposurePct: exposure,
		Positions:   account.Positions,
	}
}

func volatilityTag(s *indicators.Snapshot) string {
	if s == nil || s.HistoricalVol == nil {
		return "UNKNOWN"
	}
	switch {
	case *s.HistoricalVol >= 30:
		return "HIGH"
	case *s.HistoricalVol >= 18:
		return "ELEVATED"
	default:
		return "LOW"
	}
}

func regimeLabel(sentiment string) string {
	switch sentiment {
	case "bullish":
		return "risk-on"
	case "bearish":
		return "risk-off"
	default:
		return "choppy"
	}
}

func indexNotes(s *indicators.Snapshot) string {
	parts := []string{fmt.Sprintf("%s $%.2f", s.Symbol, s.Close)}
	if s.RSI14 != nil {
		parts = append(parts, fmt.Sprintf("RSI %.1f", *s.RSI14))
	}
	if s.HistoricalVol != nil {
		parts = append(parts, fmt.Sprintf("hist vol %.1f%%", *s.HistoricalVol))
	}
	parts = append(parts, "trend "+s.Signals.Trend)
	return strings.Join(parts, ", ")
}
