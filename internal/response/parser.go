package response

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/prompt"
)

// ParseInput carries the raw model output plus the context the prompt was
// built from. The parser never guesses the format; the caller states it.
type ParseInput struct {
	Raw           string
	Format        prompt.ExpectedFormat
	QueryType     prompt.QueryType
	Trigger       prompt.Trigger
	Symbol        string
	PriceSnapshot float64
	Timestamp     time.Time
}

// Parser turns raw model text into typed, quality-scored results
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a parser
func NewParser() *Parser {
	return &Parser{logger: config.NewLogger("parser")}
}

// Parse extracts, validates, and scores one model response. Malformed
// output is reported, never coerced into a decision.
func (p *Parser) Parse(in ParseInput) *Result {
	payload := ExtractJSON(in.Raw)
	if payload == "" {
		p.logger.Warn().Str("symbol", in.Symbol).Msg("No JSON payload in model response")
		return parseError(in.Raw, "no JSON object found")
	}

	var result *Result
	switch in.Format {
	case prompt.FormatStandardDecision:
		result = p.parseStandard(in, payload)
	case prompt.FormatRanking:
		result = p.parseRanking(in, payload)
	case prompt.FormatComparison:
		result = p.parseComparison(in, payload)
	case prompt.FormatDataRequest:
		result = p.parseDataRequest(in, payload)
	default:
		return schemaError(in.Raw, fmt.Sprintf("unknown expected format %q", in.Format))
	}

	if !result.Ok() {
		p.logger.Warn().
			Str("symbol", in.Symbol).
			Str("status", string(result.Status)).
			Str("reason", result.Reason).
			Msg("Model response rejected")
	}
	return result
}

// Wire shapes use float64 for numerics so an integer-valued float from the
// model parses; validation enforces range and integrality where required.

type standardWire struct {
	Action      string       `json:"action"`
	Confidence  float64      `json:"confidence"`
	Sentiment   string       `json:"sentiment"`
	Reasoning   string       `json:"reasoning"`
	RiskFactors []RiskFactor `json:"risk_factors"`
	Shares      float64      `json:"shares"`
}

func (p *Parser) parseStandard(in ParseInput, payload string) *Result {
	var wire standardWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return parseError(in.Raw, fmt.Sprintf("invalid JSON: %v", err))
	}

	wire.Action = strings.ToLower(strings.TrimSpace(wire.Action))
	wire.Sentiment = strings.ToLower(strings.TrimSpace(wire.Sentiment))

	switch wire.Action {
	case "buy", "sell", "hold":
	default:
		return schemaError(in.Raw, fmt.Sprintf("action %q not in {buy, sell, hold}", wire.Action))
	}
	if wire.Confidence < 0 || wire.Confidence > 100 {
		return schemaError(in.Raw, fmt.Sprintf("confidence %.1f outside [0, 100]", wire.Confidence))
	}
	switch wire.Sentiment {
	case "bullish", "bearish", "neutral":
	default:
		return schemaError(in.Raw, fmt.Sprintf("sentiment %q not in {bullish, bearish, neutral}", wire.Sentiment))
	}
	if strings.TrimSpace(wire.Reasoning) == "" {
		return schemaError(in.Raw, "reasoning is empty")
	}
	if wire.Shares < 0 {
		return schemaError(in.Raw, "shares is negative")
	}
	for _, rf := range wire.RiskFactors {
		switch rf.Severity {
		case "LOW", "MEDIUM", "HIGH":
		default:
			return schemaError(in.Raw, fmt.Sprintf("risk factor severity %q invalid", rf.Severity))
		}
	}

	if reason, hit := p.copyPasteCheck(in.QueryType, wire.Reasoning); hit {
		return copyPaste(in.Raw, reason)
	}

	decision := &Decision{
		Symbol:        in.Symbol,
		Action:        wire.Action,
		Shares:        int(wire.Shares),
		PriceSnapshot: in.PriceSnapshot,
		Confidence:    int(math.Round(wire.Confidence)),
		Sentiment:     wire.Sentiment,
		Reasoning:     wire.Reasoning,
		RiskFactors:   wire.RiskFactors,
		QualityScores: scoreStandard(wire),
		RawResponse:   in.Raw,
		Timestamp:     in.Timestamp,
		Trigger:       in.Trigger,
		QueryType:     in.QueryType,
	}
	return &Result{Status: StatusOk, RawResponse: in.Raw, Decision: decision}
}

type rankingWire struct {
	RankedPositions []struct {
		Symbol string  `json:"symbol"`
		Rank   float64 `json:"rank"`
		Score  float64 `json:"score"`
		Action string  `json:"action"`
		Reason string  `json:"reason"`
	} `json:"ranked_positions"`
	Summary string `json:"summary"`
}

func (p *Parser) parseRanking(in ParseInput, payload string) *Result {
	var wire rankingWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return parseError(in.Raw, fmt.Sprintf("invalid JSON: %v", err))
	}
	if len(wire.RankedPositions) == 0 {
		return schemaError(in.Raw, "ranked_positions is empty")
	}

	positions := make([]RankedPosition, 0, len(wire.RankedPositions))
	ranks := make([]int, 0, len(wire.RankedPositions))
	for _, rp := range wire.RankedPositions {
		action := strings.ToLower(strings.TrimSpace(rp.Action))
		switch action {
		case "keep", "hold", "sell":
		default:
			return schemaError(in.Raw, fmt.Sprintf("ranking action %q not in {keep, hold, sell}", rp.Action))
		}
		if rp.Symbol == "" {
			return schemaError(in.Raw, "ranking entry missing symbol")
		}
		if rp.Score < 0 || rp.Score > 100 {
			return schemaError(in.Raw, fmt.Sprintf("score %.1f outside [0, 100] for %s", rp.Score, rp.Symbol))
		}
		if rp.Rank != math.Trunc(rp.Rank) {
			return schemaError(in.Raw, fmt.Sprintf("non-integer rank %.2f for %s", rp.Rank, rp.Symbol))
		}
		positions = append(positions, RankedPosition{
			Symbol: rp.Symbol,
			Rank:   int(rp.Rank),
			Score:  int(math.Round(rp.Score)),
			Action: action,
			Reason: rp.Reason,
		})
		ranks = append(ranks, int(rp.Rank))
	}

	// Ranks must be a permutation of 1..N, no gaps, no duplicates.
	sort.Ints(ranks)
	for i, r := range ranks {
		if r != i+1 {
			return schemaError(in.Raw, fmt.Sprintf("ranks are not a permutation of 1..%d", len(ranks)))
		}
	}

	ranking := &Ranking{
		RankedPositions: positions,
		Summary:         wire.Summary,
		QualityScores:   scoreRanking(positions, in.Trigger),
		RawResponse:     in.Raw,
		Timestamp:       in.Timestamp,
	}
	return &Result{Status: StatusOk, RawResponse: in.Raw, Ranking: ranking}
}

type comparisonEntryWire struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

type comparisonWire struct {
	Winner   *comparisonEntryWire `json:"winner"`
	RunnerUp *comparisonEntryWire `json:"runner_up"`
	Avoid    *comparisonEntryWire `json:"avoid"`
}

func (p *Parser) parseComparison(in ParseInput, payload string) *Result {
	var wire comparisonWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return parseError(in.Raw, fmt.Sprintf("invalid JSON: %v", err))
	}
	if wire.Winner == nil {
		return schemaError(in.Raw, "comparison missing winner")
	}

	convert := func(w *comparisonEntryWire, role string) (*ComparisonEntry, error) {
		if w == nil {
			return nil, nil
		}
		if w.Symbol == "" {
			return nil, fmt.Errorf("%s missing symbol", role)
		}
		if w.Score < 0 || w.Score > 100 {
			return nil, fmt.Errorf("%s score %.1f outside [0, 100]", role, w.Score)
		}
		return &ComparisonEntry{Symbol: w.Symbol, Score: int(math.Round(w.Score)), Reason: w.Reason}, nil
	}

	winner, err := convert(wire.Winner, "winner")
	if err != nil {
		return schemaError(in.Raw, err.Error())
	}
	runnerUp, err := convert(wire.RunnerUp, "runner_up")
	if err != nil {
		return schemaError(in.Raw, err.Error())
	}
	avoid, err := convert(wire.Avoid, "avoid")
	if err != nil {
		return schemaError(in.Raw, err.Error())
	}

	comparison := &Comparison{
		Winner:        *winner,
		RunnerUp:      runnerUp,
		Avoid:         avoid,
		QualityScores: scoreComparison(*winner, runnerUp, avoid),
		RawResponse:   in.Raw,
		Timestamp:     in.Timestamp,
	}
	return &Result{Status: StatusOk, RawResponse: in.Raw, Comparison: comparison}
}

type dataRequestWire struct {
	NeedsMoreData bool     `json:"needs_more_data"`
	RequestedData []string `json:"requested_data"`
}

// parseDataRequest handles the iterative-analyst format: the model either
// asks for more data or decides, so a payload without needs_more_data is
// validated as a standard decision.
func (p *Parser) parseDataRequest(in ParseInput, payload string) *Result {
	var wire dataRequestWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return parseError(in.Raw, fmt.Sprintf("invalid JSON: %v", err))
	}
	if !wire.NeedsMoreData {
		return p.parseStandard(in, payload)
	}
	if len(wire.RequestedData) == 0 {
		return schemaError(in.Raw, "needs_more_data is true but requested_data is empty")
	}
	return &Result{
		Status:      StatusOk,
		RawResponse: in.Raw,
		DataRequest: &DataRequest{
			NeedsMoreData: true,
			RequestedData: wire.RequestedData,
			RawResponse:   in.Raw,
		},
	}
}

// copyPasteCheck rejects reasoning lifted verbatim from the instruction
// text. Very short strings are exempt; they match template fragments by
// coincidence, not by copying.
func (p *Parser) copyPasteCheck(queryType prompt.QueryType, reasoning string) (string, bool) {
	trimmed := strings.TrimSpace(reasoning)
	if len(trimmed) < 12 {
		return "", false
	}
	for _, literal := range prompt.TemplateLiterals(queryType) {
		if strings.Contains(literal, trimmed) {
			return "reasoning is a verbatim fragment of the instruction template", true
		}
	}
	return "", false
}
