package response

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akindell/marketmind/internal/prompt"
)

func standardInput(raw string) ParseInput {
	return ParseInput{
		Raw:           raw,
		Format:        prompt.FormatStandardDecision,
		QueryType:     prompt.QueryNewOpportunity,
		Trigger:       prompt.TriggerScheduledCycle,
		Symbol:        "AAPL",
		PriceSnapshot: 184.50,
		Timestamp:     time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC),
	}
}

func TestParseStandardDecision(t *testing.T) {
	p := NewParser()
	raw := `Here is my analysis.
` + "```json" + `
{
  "action": "buy",
  "confidence": 78,
  "sentiment": "bullish",
  "reasoning": "RSI at 62 with price above SMA20 at $180.10 and volume 1.4x average supports continuation toward resistance at $187.50.",
  "risk_factors": [{"severity": "MEDIUM", "text": "Extended above the 20-day mean"}],
  "shares": 25
}
` + "```"

	result := p.Parse(standardInput(raw))
	require.True(t, result.Ok(), result.Reason)
	require.NotNil(t, result.Decision)

	d := result.Decision
	assert.Equal(t, "buy", d.Action)
	assert.Equal(t, 78, d.Confidence)
	assert.Equal(t, "bullish", d.Sentiment)
	assert.Equal(t, 25, d.Shares)
	assert.Equal(t, "AAPL", d.Symbol)
	assert.Equal(t, 184.50, d.PriceSnapshot)
	assert.Equal(t, raw, d.RawResponse)
	assert.Equal(t, prompt.QueryNewOpportunity, d.QueryType)
	assert.NotEmpty(t, d.QualityScores["overall"])
}

func TestParseBraceCounterFallback(t *testing.T) {
	p := NewParser()
	// No fence; payload embedded in prose, with braces inside a string.
	raw := `Thinking... the answer {"action": "hold", "confidence": 55, "sentiment": "neutral",
"reasoning": "Mixed signals: price between support {near} $182 and resistance.", "risk_factors": []} done.`

	result := p.Parse(standardInput(raw))
	require.True(t, result.Ok(), result.Reason)
	assert.Equal(t, "hold", result.Decision.Action)
}

func TestParseNoJSONIsParseError(t *testing.T) {
	p := NewParser()
	result := p.Parse(standardInput("I think you should probably buy some."))
	assert.Equal(t, StatusParseError, result.Status)
	assert.Nil(t, result.Decision)
}

func TestParseTruncatedJSONIsParseError(t *testing.T) {
	p := NewParser()
	result := p.Parse(standardInput(`{"action": "buy", "confidence": 70`))
	assert.Equal(t, StatusParseError, result.Status)
}

func TestStandardSchemaViolations(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name string
		raw  string
	}{
		{"bad action", `{"action": "yolo", "confidence": 70, "sentiment": "bullish", "reasoning": "solid setup forming here", "risk_factors": []}`},
		{"confidence over 100", `{"action": "buy", "confidence": 140, "sentiment": "bullish", "reasoning": "solid setup forming here", "risk_factors": []}`},
		{"negative confidence", `{"action": "buy", "confidence": -5, "sentiment": "bullish", "reasoning": "solid setup forming here", "risk_factors": []}`},
		{"bad sentiment", `{"action": "buy", "confidence": 70, "sentiment": "excited", "reasoning": "solid setup forming here", "risk_factors": []}`},
		{"empty reasoning", `{"action": "buy", "confidence": 70, "sentiment": "bullish", "reasoning": "  ", "risk_factors": []}`},
		{"bad severity", `{"action": "buy", "confidence": 70, "sentiment": "bullish", "reasoning": "solid setup forming here", "risk_factors": [{"severity": "EXTREME", "text": "x"}]}`},
		{"negative shares", `{"action": "sell", "confidence": 70, "sentiment": "bearish", "reasoning": "breaking down through support", "risk_factors": [], "shares": -10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := p.Parse(standardInput(tt.raw))
			assert.Equal(t, StatusSchemaError, result.Status)
			assert.Nil(t, result.Decision, "malformed output must not be coerced")
		})
	}
}

func TestCopyPasteGuard(t *testing.T) {
	p := NewParser()
	// Reasoning lifted verbatim from the task instruction body.
	lits := prompt.TemplateLiterals(prompt.QueryNewOpportunity)
	require.NotEmpty(t, lits)
	fragment := lits[0][:60]

	raw := `{"action": "hold", "confidence": 50, "sentiment": "neutral", "reasoning": ` +
		jsonString(fragment) + `, "risk_factors": []}`
	result := p.Parse(standardInput(raw))
	assert.Equal(t, StatusCopyPasteSuspected, result.Status)
	assert.Nil(t, result.Decision)
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestParseRanking(t *testing.T) {
	p := NewParser()
	in := standardInput(`{
		"ranked_positions": [
			{"symbol": "AAPL", "rank": 1, "score": 85, "action": "keep", "reason": "strongest trend with volume confirmation"},
			{"symbol": "MSFT", "rank": 2, "score": 60, "action": "hold", "reason": "consolidating above support"},
			{"symbol": "XOM", "rank": 3, "score": 30, "action": "sell", "reason": "sector rolling over, thesis broken"}
		],
		"summary": "Concentrate in AAPL, exit energy."
	}`)
	in.Format = prompt.FormatRanking
	in.Trigger = prompt.TriggerCapitalConstraint

	result := p.Parse(in)
	require.True(t, result.Ok(), result.Reason)
	require.NotNil(t, result.Ranking)

	r := result.Ranking
	assert.Len(t, r.RankedPositions, 3)
	assert.Equal(t, "AAPL", r.RankedPositions[0].Symbol)
	assert.Equal(t, "sell", r.RankedPositions[2].Action)
	// Capital-constrained audit with a sell scores full action clarity.
	assert.Equal(t, 100, r.QualityScores["action_clarity"])
}

func TestRankingPermutationEnforced(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name string
		raw  string
	}{
		{"gap", `{"ranked_positions": [
			{"symbol": "AAPL", "rank": 1, "score": 80, "action": "keep", "reason": "r"},
			{"symbol": "MSFT", "rank": 3, "score": 50, "action": "hold", "reason": "r"}]}`},
		{"duplicate", `{"ranked_positions": [
			{"symbol": "AAPL", "rank": 1, "score": 80, "action": "keep", "reason": "r"},
			{"symbol": "MSFT", "rank": 1, "score": 50, "action": "hold", "reason": "r"}]}`},
		{"zero based", `{"ranked_positions": [
			{"symbol": "AAPL", "rank": 0, "score": 80, "action": "keep", "reason": "r"},
			{"symbol": "MSFT", "rank": 1, "score": 50, "action": "hold", "reason": "r"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := standardInput(tt.raw)
			in.Format = prompt.FormatRanking
			result := p.Parse(in)
			assert.Equal(t, StatusSchemaError, result.Status)
			assert.Nil(t, result.Ranking)
		})
	}
}

func TestParseComparison(t *testing.T) {
	p := NewParser()
	in := standardInput(`{
		"winner": {"symbol": "NVDA", "score": 82, "reason": "leads the group on every momentum measure"},
		"runner_up": {"symbol": "AMD", "score": 64, "reason": "similar setup, weaker volume"},
		"avoid": {"symbol": "INTC", "score": 25, "reason": "downtrend intact"}
	}`)
	in.Format = prompt.FormatComparison

	result := p.Parse(in)
	require.True(t, result.Ok(), result.Reason)
	require.NotNil(t, result.Comparison)

	c := result.Comparison
	assert.Equal(t, "NVDA", c.Winner.Symbol)
	require.NotNil(t, c.RunnerUp)
	assert.Equal(t, "AMD", c.RunnerUp.Symbol)
	require.NotNil(t, c.Avoid)
	assert.Greater(t, c.QualityScores["differentiation"], 50)
}

func TestComparisonWinnerRequired(t *testing.T) {
	p := NewParser()
	in := standardInput(`{"runner_up": {"symbol": "AMD", "score": 64, "reason": "r"}}`)
	in.Format = prompt.FormatComparison

	result := p.Parse(in)
	assert.Equal(t, StatusSchemaError, result.Status)
}

func TestComparisonOptionalEntriesOmitted(t *testing.T) {
	p := NewParser()
	in := standardInput(`{"winner": {"symbol": "NVDA", "score": 82, "reason": "clear leader"}}`)
	in.Format = prompt.FormatComparison

	result := p.Parse(in)
	require.True(t, result.Ok(), result.Reason)
	assert.Nil(t, result.Comparison.RunnerUp)
	assert.Nil(t, result.Comparison.Avoid)
}

func TestParseDataRequest(t *testing.T) {
	p := NewParser()
	in := standardInput(`{"needs_more_data": true, "requested_data": ["volume_profile", "sector_performance"]}`)
	in.Format = prompt.FormatDataRequest

	result := p.Parse(in)
	require.True(t, result.Ok(), result.Reason)
	require.NotNil(t, result.DataRequest)
	assert.Equal(t, []string{"volume_profile", "sector_performance"}, result.DataRequest.RequestedData)
}

func TestDataRequestFallsBackToDecision(t *testing.T) {
	p := NewParser()
	in := standardInput(`{"action": "sell", "confidence": 72, "sentiment": "bearish", "reasoning": "Broke support at $178 on twice average volume; overnight thesis invalidated.", "risk_factors": []}`)
	in.Format = prompt.FormatDataRequest

	result := p.Parse(in)
	require.True(t, result.Ok(), result.Reason)
	require.NotNil(t, result.Decision)
	assert.Nil(t, result.DataRequest)
	assert.Equal(t, "sell", result.Decision.Action)
}

func TestDataRequestEmptyListRejected(t *testing.T) {
	p := NewParser()
	in := standardInput(`{"needs_more_data": true, "requested_data": []}`)
	in.Format = prompt.FormatDataRequest

	result := p.Parse(in)
	assert.Equal(t, StatusSchemaError, result.Status)
}

func TestQualityScoresRewardSpecificity(t *testing.T) {
	p := NewParser()

	vague := `{"action": "buy", "confidence": 70, "sentiment": "bullish", "reasoning": "Looks good given market conditions overall.", "risk_factors": []}`
	specific := `{"action": "buy", "confidence": 70, "sentiment": "bullish", "reasoning": "RSI 62 rising, MACD histogram positive, price $184.50 above SMA20 $180.10 with volume 1.4x the 20-day average and resistance at $187.50 giving a defined target.", "risk_factors": [{"severity": "HIGH", "text": "earnings in two days"}]}`

	rv := p.Parse(standardInput(vague))
	rs := p.Parse(standardInput(specific))
	require.True(t, rv.Ok())
	require.True(t, rs.Ok())

	assert.Greater(t, rs.Decision.QualityScores["specificity"], rv.Decision.QualityScores["specificity"])
	assert.Greater(t, rs.Decision.QualityScores["risk_awareness"], rv.Decision.QualityScores["risk_awareness"])
	assert.Greater(t, rs.Decision.QualityScores["overall"], rv.Decision.QualityScores["overall"])
}

func TestExtractFencedWinsOverBraces(t *testing.T) {
	raw := `{"decoy": true}
` + "```json" + `
{"action": "hold"}
` + "```"
	assert.Equal(t, `{"action": "hold"}`, ExtractJSON(raw))
}

func TestExtractRespectsEscapedQuotes(t *testing.T) {
	raw := `noise {"reasoning": "he said \"buy {now}\" loudly", "action": "hold"} trailing`
	assert.Equal(t, `{"reasoning": "he said \"buy {now}\" loudly", "action": "hold"}`, ExtractJSON(raw))
}
