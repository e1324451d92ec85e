package response

import (
	"time"

	"github.com/akindell/marketmind/internal/prompt"
)

// RiskFactor is one model-identified risk with a severity tag
type RiskFactor struct {
	Severity string `json:"severity"` // LOW | MEDIUM | HIGH
	Text     string `json:"text"`
}

// Decision is a validated standard trading decision. Immutable once
// recorded.
type Decision struct {
	Symbol        string           `json:"symbol"`
	Action        string           `json:"action"` // buy | sell | hold
	Shares        int              `json:"shares"`
	PriceSnapshot float64          `json:"price_snapshot"`
	Confidence    int              `json:"confidence"` // 0..100
	Sentiment     string           `json:"sentiment"`  // bullish | bearish | neutral
	Reasoning     string           `json:"reasoning"`
	RiskFactors   []RiskFactor     `json:"risk_factors"`
	QualityScores map[string]int   `json:"quality_scores"`
	RawResponse   string           `json:"llm_raw_response"`
	Timestamp     time.Time        `json:"timestamp"`
	Trigger       prompt.Trigger   `json:"trigger"`
	QueryType     prompt.QueryType `json:"query_type"`
}

// RankedPosition is one entry in a portfolio ranking
type RankedPosition struct {
	Symbol string `json:"symbol"`
	Rank   int    `json:"rank"` // 1 is strongest
	Score  int    `json:"score"`
	Action string `json:"action"` // keep | hold | sell
	Reason string `json:"reason"`
}

// Ranking is a validated portfolio-audit response. Ranks form a
// permutation of 1..N.
type Ranking struct {
	RankedPositions []RankedPosition `json:"ranked_positions"`
	Summary         string           `json:"summary"`
	QualityScores   map[string]int   `json:"quality_scores"`
	RawResponse     string           `json:"llm_raw_response"`
	Timestamp       time.Time        `json:"timestamp"`
}

// ComparisonEntry is one side of a head-to-head comparison
type ComparisonEntry struct {
	Symbol string `json:"symbol"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Comparison is a validated comparative-analysis response
type Comparison struct {
	Winner        ComparisonEntry  `json:"winner"`
	RunnerUp      *ComparisonEntry `json:"runner_up,omitempty"`
	Avoid         *ComparisonEntry `json:"avoid,omitempty"`
	QualityScores map[string]int   `json:"quality_scores"`
	RawResponse   string           `json:"llm_raw_response"`
	Timestamp     time.Time        `json:"timestamp"`
}

// DataRequest is the model asking for more inputs before deciding
type DataRequest struct {
	NeedsMoreData bool     `json:"needs_more_data"`
	RequestedData []string `json:"requested_data"`
	RawResponse   string   `json:"llm_raw_response"`
}

// Status classifies a parse attempt
type Status string

const (
	StatusOk                 Status = "ok"
	StatusParseError         Status = "parse_error"
	StatusSchemaError        Status = "schema_error"
	StatusCopyPasteSuspected Status = "copy_paste_suspected"
)

// Result is the sum type returned by Parse. Exactly one of the payload
// fields is non-nil when Status is ok; Reason explains any failure.
type Result struct {
	Status      Status
	Reason      string
	RawResponse string

	Decision    *Decision
	Ranking     *Ranking
	Comparison  *Comparison
	DataRequest *DataRequest
}

// Ok reports whether the result carries a usable payload
func (r *Result) Ok() bool { return r.Status == StatusOk }

func parseError(raw, reason string) *Result {
	return &Result{Status: StatusParseError, Reason: reason, RawResponse: raw}
}

func schemaError(raw, reason string) *Result {
	return &Result{Status: StatusSchemaError, Reason: reason, RawResponse: raw}
}

func copyPaste(raw, reason string) *Result {
	return &Result{Status: StatusCopyPasteSuspected, Reason: reason, RawResponse: raw}
}
