package prompt

import (
	"fmt"
	"time"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/indicators"
)

// QueryType identifies what kind of analysis is being requested
type QueryType string

const (
	QueryNewOpportunity      QueryType = "NEW_OPPORTUNITY"
	QueryPositionReview      QueryType = "POSITION_REVIEW"
	QueryPortfolioAudit      QueryType = "PORTFOLIO_AUDIT"
	QueryComparativeAnalysis QueryType = "COMPARATIVE_ANALYSIS"
	QueryTradePostmortem     QueryType = "TRADE_POSTMORTEM"
	QueryMarketRegime        QueryType = "MARKET_REGIME"
	QuerySectorRotation      QueryType = "SECTOR_ROTATION"
	QueryRiskAssessment      QueryType = "RISK_ASSESSMENT"
)

// Valid reports whether the query type is a member of the closed enumeration
func (q QueryType) Valid() bool {
	switch q {
	case QueryNewOpportunity, QueryPositionReview, QueryPortfolioAudit,
		QueryComparativeAnalysis, QueryTradePostmortem, QueryMarketRegime,
		QuerySectorRotation, QueryRiskAssessment:
		return true
	}
	return false
}

// Trigger is the enumerated reason a query was initiated
type Trigger string

const (
	TriggerScheduledCycle     Trigger = "SCHEDULED_CYCLE"
	TriggerCapitalConstraint  Trigger = "CAPITAL_CONSTRAINT"
	TriggerPriceAlert         Trigger = "PRICE_ALERT"
	TriggerNewsEvent          Trigger = "NEWS_EVENT"
	TriggerTechnicalSignal    Trigger = "TECHNICAL_SIGNAL"
	TriggerPerformanceConcern Trigger = "PERFORMANCE_CONCERN"
	TriggerUserRequest        Trigger = "USER_REQUEST"
)

// Valid reports whether the trigger is a member of the closed enumeration
func (t Trigger) Valid() bool {
	switch t {
	case TriggerScheduledCycle, TriggerCapitalConstraint, TriggerPriceAlert,
		TriggerNewsEvent, TriggerTechnicalSignal, TriggerPerformanceConcern,
		TriggerUserRequest:
		return true
	}
	return false
}

// ExpectedFormat tells the parser which response schema to enforce
type ExpectedFormat string

const (
	FormatStandardDecision ExpectedFormat = "STANDARD_DECISION"
	FormatRanking          ExpectedFormat = "RANKING"
	FormatComparison       ExpectedFormat = "COMPARISON"
	FormatDataRequest      ExpectedFormat = "DATA_REQUEST"
)

// Valid reports whether the format is a member of the closed enumeration
func (f ExpectedFormat) Valid() bool {
	switch f {
	case FormatStandardDecision, FormatRanking, FormatComparison, FormatDataRequest:
		return true
	}
	return false
}

// DetailLevel controls how verbose technical rendering is
type DetailLevel string

const (
	DetailMinimal  DetailLevel = "minimal"
	DetailStandard DetailLevel = "standard"
	DetailDetailed DetailLevel = "detailed"
)

// Valid reports whether the detail level is a member of the closed enumeration
func (d DetailLevel) Valid() bool {
	switch d {
	case DetailMinimal, DetailStandard, DetailDetailed:
		return true
	}
	return false
}

// PortfolioState is the account summary rendered into portfolio-level
// prompts.
type PortfolioState struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	ExposurePct float64 // gross exposure / equity * 100
	DayPnL      float64
	Positions   []broker.Position
}

// ComparativeEntry pairs a symbol with its indicator snapshot for
// side-by-side rendering.
type ComparativeEntry struct {
	Symbol   string
	Snapshot *indicators.Snapshot
}

// NewsContext carries the overnight narrative synthesis plus recent
// headlines for one symbol.
type NewsContext struct {
	Narrative      string
	NetSentiment   string
	Confidence     float64 // 0..1
	KeyThemes      []string
	Contradictions []string
	Recommendation string
	Stale          bool
	Headlines      []Headline
}

// Headline is one rendered news item
type Headline struct {
	Time     time.Time
	Text     string
	Source   string
}

// RegimeContext summarizes broad market conditions
type RegimeContext struct {
	Label         string // e.g. "risk-on", "risk-off", "choppy"
	IndexTrend    string // BULLISH | BEARISH | NEUTRAL
	VolatilityTag string // LOW | ELEVATED | HIGH
	Notes         string
}

// OvernightContext carries the prior night's deep-analysis conclusion for a
// held symbol.
type OvernightContext struct {
	Action     string
	Confidence float64 // 0..100
	Reasoning  string
	AnalyzedAt time.Time
}

// ClosedPosition describes a completed round trip for postmortems
type ClosedPosition struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	PnLPct     float64
	HeldDays   int
}

// QueryContext is the typed input to prompt assembly. The enumerated
// fields are validated before assembly; anything outside the enumerations
// is a configuration error, never coerced.
type QueryContext struct {
	QueryType           QueryType
	Trigger             Trigger
	Profile             Profile
	PrimarySymbol       string
	ComparisonSymbols   []string
	ExpectedFormat      ExpectedFormat
	IncludeNews         bool
	IncludeMarketRegime bool
	DetailLevel         DetailLevel

	// Data bundle. Components render only what is present.
	Technical      *indicators.Snapshot
	EntryTechnical *indicators.Snapshot // postmortem: state at entry
	Position       *broker.Position
	Closed         *ClosedPosition
	Portfolio      *PortfolioState
	Comparative    []ComparativeEntry
	News           *NewsContext
	Regime         *RegimeContext
	Overnight      *OvernightContext
}

// Validate checks every enumerated field against its closed set
func (qc *QueryContext) Validate() error {
	if !qc.QueryType.Valid() {
		return fmt.Errorf("invalid query type %q", qc.QueryType)
	}
	if !qc.Trigger.Valid() {
		return fmt.Errorf("invalid trigger %q", qc.Trigger)
	}
	if !qc.Profile.Valid() {
		return fmt.Errorf("invalid profile %q", qc.Profile)
	}
	if !qc.ExpectedFormat.Valid() {
		return fmt.Errorf("invalid expected format %q", qc.ExpectedFormat)
	}
	if !qc.DetailLevel.Valid() {
		return fmt.Errorf("invalid detail level %q", qc.DetailLevel)
	}
	return nil
}
