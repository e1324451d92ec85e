package store

import (
	"time"
)

// DecisionRecord is one persisted Decision row. Outcome fields start NULL
// and are filled when the corresponding position closes; the record is
// otherwise immutable.
type DecisionRecord struct {
	ID              string     `db:"id" json:"id"`
	Timestamp       time.Time  `db:"timestamp" json:"timestamp"`
	Symbol          string     `db:"symbol" json:"symbol"`
	Action          string     `db:"action" json:"action"`
	Shares          int        `db:"shares" json:"shares"`
	PriceSnapshot   float64    `db:"price_snapshot" json:"price_snapshot"`
	Confidence      int        `db:"confidence" json:"confidence"`
	Sentiment       string     `db:"sentiment" json:"sentiment"`
	Reasoning       string     `db:"reasoning" json:"reasoning"`
	RiskFactorsJSON string     `db:"risk_factors" json:"risk_factors"`
	QualityJSON     string     `db:"quality_scores" json:"quality_scores"`
	Trigger         string     `db:"trigger_reason" json:"trigger"`
	QueryType       string     `db:"query_type" json:"query_type"`
	Executed        bool       `db:"executed" json:"executed"`
	ExecutionReason string     `db:"execution_reason" json:"execution_reason"`
	OrderID         string     `db:"order_id" json:"order_id"`
	FillPrice       *float64   `db:"fill_price" json:"fill_price,omitempty"`
	OutcomePnL      *float64   `db:"outcome_pnl" json:"outcome_pnl,omitempty"`
	OutcomePnLPct   *float64   `db:"outcome_pnl_pct" json:"outcome_pnl_pct,omitempty"`
	ClosedAt        *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// InteractionRecord is one raw model exchange
type InteractionRecord struct {
	ID               string    `db:"id" json:"id"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	Symbol           string    `db:"symbol" json:"symbol"`
	QueryType        string    `db:"query_type" json:"query_type"`
	Model            string    `db:"model" json:"model"`
	Prompt           string    `db:"prompt" json:"prompt"`
	Response         string    `db:"response" json:"response"`
	Classification   string    `db:"classification" json:"classification"` // parse status
	LatencyMs        int       `db:"latency_ms" json:"latency_ms"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
}

// PatternRecord is one discovered decision pattern
type PatternRecord struct {
	ID             string    `db:"id" json:"id"`
	Type           string    `db:"type" json:"type"`
	ConditionsJSON string    `db:"conditions" json:"conditions"`
	SuccessRate    float64   `db:"success_rate" json:"success_rate"` // 0..1
	SampleSize     int       `db:"sample_size" json:"sample_size"`
	AvgReturn      float64   `db:"avg_return" json:"avg_return"`
	RiskReward     float64   `db:"risk_reward" json:"risk_reward"`
	DiscoveredAt   time.Time `db:"discovered_at" json:"discovered_at"`
}

// DailyPerformance is the per-date aggregate row
type DailyPerformance struct {
	Date    string  `db:"date" json:"date"` // YYYY-MM-DD, market timezone
	PnL     float64 `db:"pnl" json:"pnl"`
	WinRate float64 `db:"win_rate" json:"win_rate"` // 0..1, 0 when no closes
	Trades  int     `db:"trades" json:"trades"`
	Regime  string  `db:"regime" json:"regime"`
}

// Recommendation is the final output of one overnight deep analysis
type Recommendation struct {
	Action      string   `json:"action"`
	Confidence  float64  `json:"confidence"` // 0..100
	EntryPrice  *float64 `json:"entry_price,omitempty"`
	TargetPrice *float64 `json:"target_price,omitempty"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	Reasoning   string   `json:"reasoning"`
}

// OvernightRecord is one per-symbol, per-date deep-analysis artifact
type OvernightRecord struct {
	ID               string    `db:"id" json:"id"`
	Symbol           string    `db:"symbol" json:"symbol"`
	Date             string    `db:"date" json:"date"` // YYYY-MM-DD
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	Iterations       int       `db:"iterations" json:"iterations"`
	Depth            string    `db:"depth" json:"depth"` // shallow | standard | deep
	ConversationJSON string    `db:"conversation" json:"conversation"`
	Action           string    `db:"action" json:"action"`
	Confidence       float64   `db:"confidence" json:"confidence"`
	EntryPrice       *float64  `db:"entry_price" json:"entry_price,omitempty"`
	TargetPrice      *float64  `db:"target_price" json:"target_price,omitempty"`
	StopLoss         *float64  `db:"stop_loss" json:"stop_loss,omitempty"`
	Reasoning        string    `db:"reasoning" json:"reasoning"`
}

// LessonRecord is one learned lesson from a postmortem or critique
type LessonRecord struct {
	ID        string    `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Source    string    `db:"source" json:"source"` // postmortem | self_critique
	Symbol    string    `db:"symbol" json:"symbol"`
	Lesson    string    `db:"lesson" json:"lesson"`
}
