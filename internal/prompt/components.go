package prompt

import (
	"fmt"
	"strings"

	"github.com/akindell/marketmind/internal/indicators"
)

// fmtOpt renders an optional indicator value; absent stays absent rather
// than becoming a fake zero.
func fmtOpt(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

// --- QueryType (priority 100, always included) ---

type queryTypeComponent struct{}

func (queryTypeComponent) Name() string                { return "query_type" }
func (queryTypeComponent) Priority() int               { return 100 }
func (queryTypeComponent) Relevant(*QueryContext) bool { return true }

func (queryTypeComponent) Render(qc *QueryContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== ANALYSIS REQUEST: %s ===", qc.QueryType)
	if qc.PrimarySymbol != "" {
		fmt.Fprintf(&b, "\nSymbol: %s", qc.PrimarySymbol)
	}
	if len(qc.ComparisonSymbols) > 0 {
		fmt.Fprintf(&b, "\nCandidates: %s", strings.Join(qc.ComparisonSymbols, ", "))
	}
	return b.String()
}

// --- Trigger (priority 90, always included) ---

type triggerComponent struct{}

func (triggerComponent) Name() string                { return "trigger" }
func (triggerComponent) Priority() int               { return 90 }
func (triggerComponent) Relevant(*QueryContext) bool { return true }

var triggerText = map[Trigger]string{
	TriggerScheduledCycle:     "This is a routine scheduled evaluation.",
	TriggerCapitalConstraint:  "Buying power is nearly exhausted; a new entry requires freeing capital from an existing holding first.",
	TriggerPriceAlert:         "A price level alert fired for this symbol.",
	TriggerNewsEvent:          "Fresh news on this symbol triggered this evaluation.",
	TriggerTechnicalSignal:    "A technical signal crossed a watch threshold for this symbol.",
	TriggerPerformanceConcern: "This position has been underperforming and needs a fresh look.",
	TriggerUserRequest:        "The operator requested this analysis directly.",
}

func (triggerComponent) Render(qc *QueryContext) string {
	return fmt.Sprintf("WHY NOW: %s", triggerText[qc.Trigger])
}

// --- TradingProfile (priority 80, always included) ---

type tradingProfileComponent struct{}

func (tradingProfileComponent) Name() string                { return "trading_profile" }
func (tradingProfileComponent) Priority() int               { return 80 }
func (tradingProfileComponent) Relevant(*QueryContext) bool { return true }

func (tradingProfileComponent) Render(qc *QueryContext) string {
	p := qc.Profile.Params()
	return fmt.Sprintf(
		"TRADING PROFILE: %s\nPosture: %s\nFocus: %s\nConfidence below %d never buys; confidence below %d never sells.",
		p.Name, p.Posture, p.Focus, p.MinBuyConf, p.MinSellConf)
}

// --- OvernightContext (priority 75, position reviews with prior analysis) ---

type overnightContextComponent struct{}

func (overnightContextComponent) Name() string  { return "overnight_context" }
func (overnightContextComponent) Priority() int { return 75 }

func (overnightContextComponent) Relevant(qc *QueryContext) bool {
	return qc.QueryType == QueryPositionReview && qc.Overnight != nil
}

func (overnightContextComponent) Render(qc *QueryContext) string {
	o := qc.Overnight
	return fmt.Sprintf(
		"OVERNIGHT ANALYSIS (%s):\nRecommended action: %s (confidence %.0f)\n%s\nWeigh this against current conditions; it is advisory, not binding.",
		o.AnalyzedAt.Format("2006-01-02 15:04 MST"), o.Action, o.Confidence, o.Reasoning)
}

// --- PositionData (priority 70, reviews and postmortems) ---

type positionDataComponent struct{}

func (positionDataComponent) Name() string  { return "position_data" }
func (positionDataComponent) Priority() int { return 70 }

func (positionDataComponent) Relevant(qc *QueryContext) bool {
	switch qc.QueryType {
	case QueryPositionReview:
		return qc.Position != nil
	case QueryTradePostmortem:
		return qc.Closed != nil
	}
	return false
}

func (positionDataComponent) Render(qc *QueryContext) string {
	if qc.QueryType == QueryTradePostmortem {
		c := qc.Closed
		return fmt.Sprintf(
			"CLOSED TRADE: %s\nShares: %.2f | Entry: $%.2f | Exit: $%.2f\nResult: $%.2f (%+.2f%%) over %d trading days",
			c.Symbol, c.Qty, c.EntryPrice, c.ExitPrice, c.PnL, c.PnLPct, c.HeldDays)
	}

	p := qc.Position
	// The ownership banner prevents the model from recommending a fresh
	// buy of a symbol it already holds.
	return fmt.Sprintf(
		"YOU ALREADY OWN %.2f shares of %s bought at $%.2f (now $%.2f, %+.2f%%).\nMarket value: $%.2f | Unrealized P&L: $%.2f | Held: %d trading days",
		p.Qty, p.Symbol, p.AvgEntryPrice, p.CurrentPrice, p.UnrealizedPnLPct,
		p.MarketValue, p.UnrealizedPnL, p.DaysHeld)
}

// --- TechnicalData (priority 60) ---

type technicalDataComponent struct{}

func (technicalDataComponent) Name() string  { return "technical_data" }
func (technicalDataComponent) Priority() int { return 60 }

func (technicalDataComponent) Relevant(qc *QueryContext) bool {
	switch qc.QueryType {
	case QueryNewOpportunity, QueryPositionReview:
		return qc.Technical != nil
	case QueryTradePostmortem:
		return qc.Technical != nil || qc.EntryTechnical != nil
	case QueryRiskAssessment, QuerySectorRotation:
		return qc.Technical != nil
	}
	return false
}

func (technicalDataComponent) Render(qc *QueryContext) string {
	if qc.QueryType == QueryTradePostmortem {
		var b strings.Builder
		if qc.EntryTechnical != nil {
			b.WriteString("TECHNICALS AT ENTRY:\n")
			b.WriteString(renderSnapshot(qc.EntryTechnical, DetailStandard))
		}
		if qc.Technical != nil {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("TECHNICALS AT EXIT:\n")
			b.WriteString(renderSnapshot(qc.Technical, DetailStandard))
		}
		return b.String()
	}

	detail := qc.DetailLevel
	if qc.QueryType == QueryPositionReview && detail == DetailStandard {
		detail = DetailDetailed
	}
	return "TECHNICAL DATA:\n" + renderSnapshot(qc.Technical, detail)
}

// renderSnapshot prints one symbol's indicator state. Every number is
// paired with its interpretation label so the model never has to infer
// what a raw value means.
func renderSnapshot(s *indicators.Snapshot, detail DetailLevel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: $%.2f (day range $%.2f-$%.2f)", s.Symbol, s.Close, s.Low, s.High)
	fmt.Fprintf(&b, "\nRSI(14): %s [%s] | Trend: %s | Composite: %s",
		fmtOpt(s.RSI14), s.Signals.Momentum, s.Signals.Trend, s.Signals.Composite)

	if detail == DetailMinimal {
		return b.String()
	}

	fmt.Fprintf(&b, "\nSMA20: %s | SMA50: %s | MACD hist: %s",
		fmtOpt(s.SMA20), fmtOpt(s.SMA50), fmtOpt(s.MACDHist))
	fmt.Fprintf(&b, "\nBollinger: %s / %s / %s [%s]",
		fmtOpt(s.BollingerLower), fmtOpt(s.BollingerMiddle), fmtOpt(s.BollingerUpper), s.Signals.Bollinger)
	fmt.Fprintf(&b, "\nVolume vs 20d avg: %sx", fmtOpt(s.VolumeRatio))

	if detail == DetailDetailed {
		fmt.Fprintf(&b, "\nATR(14): %s | Hist vol: %s%% | OBV: %s",
			fmtOpt(s.ATR14), fmtOpt(s.HistoricalVol), fmtOpt(s.OBV))
		fmt.Fprintf(&b, "\nSupport: %s | Resistance: %s",
			fmtOpt(s.Support), fmtOpt(s.Resistance))
	}
	return b.String()
}

// --- PortfolioSummary (priority 55, audits and risk assessments) ---

type portfolioSummaryComponent struct{}

func (portfolioSummaryComponent) Name() string  { return "portfolio_summary" }
func (portfolioSummaryComponent) Priority() int { return 55 }

func (portfolioSummaryComponent) Relevant(qc *QueryContext) bool {
	switch qc.QueryType {
	case QueryPortfolioAudit, QueryRiskAssessment:
		return qc.Portfolio != nil
	}
	return false
}

func (portfolioSummaryComponent) Render(qc *QueryContext) string {
	p := qc.Portfolio
	var b strings.Builder
	fmt.Fprintf(&b, "PORTFOLIO:\nEquity: $%.2f | Cash: $%.2f | Buying power: $%.2f",
		p.Equity, p.Cash, p.BuyingPower)
	fmt.Fprintf(&b, "\nGross exposure: %.1f%% of equity | Day P&L: $%.2f", p.ExposurePct, p.DayPnL)
	for _, pos := range p.Positions {
		fmt.Fprintf(&b, "\n  %-6s %8.2f sh @ $%.2f -> $%.2f (%+.2f%%, %dd)",
			pos.Symbol, pos.Qty, pos.AvgEntryPrice, pos.CurrentPrice,
			pos.UnrealizedPnLPct, pos.DaysHeld)
	}
	return b.String()
}

// --- News (priority 50) ---

type newsComponent struct{}

func (newsComponent) Name() string  { return "news" }
func (newsComponent) Priority() int { return 50 }

func (newsComponent) Relevant(qc *QueryContext) bool {
	if qc.News == nil {
		return false
	}
	switch qc.QueryType {
	case QueryNewOpportunity, QueryPositionReview:
		return qc.IncludeNews
	case QueryComparativeAnalysis:
		return true
	}
	return false
}

func (newsComponent) Render(qc *QueryContext) string {
	n := qc.News
	var b strings.Builder
	b.WriteString("NEWS CONTEXT:")
	if n.Narrative != "" {
		staleTag := ""
		if n.Stale {
			staleTag = " [STALE: from a previous evening, weight reduced]"
		}
		fmt.Fprintf(&b, "\nOvernight synthesis%s: %s", staleTag, n.Narrative)
		fmt.Fprintf(&b, "\nNet sentiment: %s (confidence %.2f)", n.NetSentiment, n.Confidence)
		if len(n.KeyThemes) > 0 {
			fmt.Fprintf(&b, "\nKey themes: %s", strings.Join(n.KeyThemes, "; "))
		}
		if len(n.Contradictions) > 0 {
			fmt.Fprintf(&b, "\nContradictions in coverage: %s", strings.Join(n.Contradictions, "; "))
		}
		if n.Recommendation != "" {
			fmt.Fprintf(&b, "\nSynthesis recommendation: %s", n.Recommendation)
		}
	}
	if len(n.Headlines) > 0 {
		b.WriteString("\nRecent headlines:")
		for _, h := range n.Headlines {
			fmt.Fprintf(&b, "\n  [%s] %s (%s)", h.Time.Format("Jan 2 15:04"), h.Text, h.Source)
		}
	}
	return b.String()
}

// --- MarketRegime (priority 45) ---

type marketRegimeComponent struct{}

func (marketRegimeComponent) Name() string  { return "market_regime" }
func (marketRegimeComponent) Priority() int { return 45 }

func (marketRegimeComponent) Relevant(qc *QueryContext) bool {
	if qc.Regime == nil {
		return false
	}
	switch qc.QueryType {
	case QueryMarketRegime, QuerySectorRotation, QueryRiskAssessment:
		return true
	case QueryPortfolioAudit:
		return qc.IncludeMarketRegime
	}
	return false
}

func (marketRegimeComponent) Render(qc *QueryContext) string {
	r := qc.Regime
	var b strings.Builder
	fmt.Fprintf(&b, "MARKET REGIME: %s\nIndex trend: %s | Volatility: %s", r.Label, r.IndexTrend, r.VolatilityTag)
	if r.Notes != "" {
		fmt.Fprintf(&b, "\n%s", r.Notes)
	}
	return b.String()
}

// --- ComparativeData (priority 40) ---

type comparativeDataComponent struct{}

func (comparativeDataComponent) Name() string  { return "comparative_data" }
func (comparativeDataComponent) Priority() int { return 40 }

func (comparativeDataComponent) Relevant(qc *QueryContext) bool {
	if len(qc.Comparative) == 0 {
		return false
	}
	switch qc.QueryType {
	case QueryPortfolioAudit, QueryComparativeAnalysis, QuerySectorRotation:
		return true
	}
	return false
}

func (comparativeDataComponent) Render(qc *QueryContext) string {
	var b strings.Builder
	b.WriteString("CANDIDATE COMPARISON (one line per symbol):")
	for _, entry := range qc.Comparative {
		s := entry.Snapshot
		if s == nil {
			fmt.Fprintf(&b, "\n  %-6s data unavailable", entry.Symbol)
			continue
		}
		fmt.Fprintf(&b, "\n  %-6s $%.2f | RSI %s [%s] | trend %s | vol %sx | composite %s",
			entry.Symbol, s.Close, fmtOpt(s.RSI14), s.Signals.Momentum,
			s.Signals.Trend, fmtOpt(s.VolumeRatio), s.Signals.Composite)
	}
	return b.String()
}

// --- TaskInstruction (priority 20, always included) ---

type taskInstructionComponent struct{}

func (taskInstructionComponent) Name() string                { return "task_instruction" }
func (taskInstructionComponent) Priority() int               { return 20 }
func (taskInstructionComponent) Relevant(*QueryContext) bool { return true }

func (taskInstructionComponent) Render(qc *QueryContext) string {
	body, ok := taskInstructions[qc.QueryType]
	if !ok {
		return ""
	}
	return "YOUR TASK:\n" + body
}

// --- ResponseFormat (priority 10, always included, always last) ---

type responseFormatComponent struct{}

func (responseFormatComponent) Name() string                { return "response_format" }
func (responseFormatComponent) Priority() int               { return 10 }
func (responseFormatComponent) Relevant(*QueryContext) bool { return true }

func (responseFormatComponent) Render(qc *QueryContext) string {
	return responseFormats[qc.ExpectedFormat]
}
