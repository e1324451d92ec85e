package response

import (
	"math"
	"regexp"
	"strings"

	"github.com/akindell/marketmind/internal/prompt"
)

// Quality scoring is heuristic by design: the scores grade HOW the model
// answered, not whether it was right. They feed the weekly self-critique
// and never gate order placement.

var (
	numberPattern    = regexp.MustCompile(`\$?\d+(\.\d+)?%?`)
	indicatorPattern = regexp.MustCompile(`(?i)\b(rsi|macd|sma|ema|bollinger|atr|obv|support|resistance|volume|moving average)\b`)
)

var genericPhrases = []string{
	"market conditions",
	"always do your own research",
	"past performance",
	"it depends",
	"various factors",
	"time will tell",
}

func clamp(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func scoreStandard(w standardWire) map[string]int {
	decisiveness := 40.0
	if w.Action != "hold" {
		decisiveness = 70
	}
	switch {
	case w.Confidence >= 80:
		decisiveness += 30
	case w.Confidence >= 65:
		decisiveness += 20
	case w.Confidence >= 50:
		decisiveness += 10
	}

	numbers := len(numberPattern.FindAllString(w.Reasoning, -1))
	indicators := len(indicatorPattern.FindAllString(w.Reasoning, -1))
	specificity := float64(20 + numbers*15 + indicators*15)

	riskAwareness := 0.0
	if n := len(w.RiskFactors); n > 0 {
		riskAwareness = 40 + float64(n)*20
		for _, rf := range w.RiskFactors {
			if rf.Severity == "HIGH" {
				riskAwareness += 10
				break
			}
		}
	}

	words := len(strings.Fields(w.Reasoning))
	depth := 30.0
	switch {
	case words >= 40:
		depth = 90
	case words >= 25:
		depth = 75
	case words >= 12:
		depth = 55
	}
	lower := strings.ToLower(w.Reasoning)
	for _, phrase := range genericPhrases {
		if strings.Contains(lower, phrase) {
			depth -= 15
		}
	}

	scores := map[string]int{
		"decisiveness":    clamp(decisiveness),
		"specificity":     clamp(specificity),
		"risk_awareness":  clamp(riskAwareness),
		"reasoning_depth": clamp(depth),
	}
	scores["overall"] = clamp(
		0.30*float64(scores["decisiveness"]) +
			0.25*float64(scores["specificity"]) +
			0.20*float64(scores["risk_awareness"]) +
			0.25*float64(scores["reasoning_depth"]))
	return scores
}

func scoreRanking(positions []RankedPosition, trigger prompt.Trigger) map[string]int {
	// Rank gaps are a schema error before scoring runs, so distribution
	// only measures whether the model actually spread its ranks.
	distribution := 100.0

	var mean float64
	for _, p := range positions {
		mean += float64(p.Score)
	}
	mean /= float64(len(positions))
	var variance float64
	for _, p := range positions {
		d := float64(p.Score) - mean
		variance += d * d
	}
	variance /= float64(len(positions))
	separation := math.Min(100, 30+math.Sqrt(variance)*5)

	actionClarity := 60.0
	hasSell := false
	for _, p := range positions {
		if p.Action == "sell" {
			hasSell = true
		}
	}
	if trigger == prompt.TriggerCapitalConstraint {
		// A capital-constrained audit that frees no capital is useless.
		if hasSell {
			actionClarity = 100
		} else {
			actionClarity = 20
		}
	} else if hasSell {
		actionClarity = 80
	}

	var reasonWords int
	for _, p := range positions {
		reasonWords += len(strings.Fields(p.Reason))
	}
	avgWords := float64(reasonWords) / float64(len(positions))
	reasoning := math.Min(100, 25+avgWords*8)

	scores := map[string]int{
		"rank_distribution": clamp(distribution),
		"score_separation":  clamp(separation),
		"action_clarity":    clamp(actionClarity),
		"reasoning_quality": clamp(reasoning),
	}
	scores["overall"] = clamp(
		(float64(scores["rank_distribution"]) +
			float64(scores["score_separation"]) +
			float64(scores["action_clarity"]) +
			float64(scores["reasoning_quality"])) / 4)
	return scores
}

func scoreComparison(winner ComparisonEntry, runnerUp, avoid *ComparisonEntry) map[string]int {
	decisiveness := 50.0
	if winner.Score >= 70 {
		decisiveness = 90
	} else if winner.Score >= 55 {
		decisiveness = 70
	}

	differentiation := 40.0
	if runnerUp != nil {
		spread := float64(winner.Score - runnerUp.Score)
		differentiation = math.Min(100, 40+spread*3)
	}
	if avoid != nil {
		differentiation = math.Min(100, differentiation+15)
	}

	words := len(strings.Fields(winner.Reason))
	clarity := math.Min(100, 25+float64(words)*6)

	strength := float64(winner.Score)

	scores := map[string]int{
		"decisiveness":            clamp(decisiveness),
		"differentiation":         clamp(differentiation),
		"reasoning_clarity":       clamp(clarity),
		"recommendation_strength": clamp(strength),
	}
	scores["overall"] = clamp(
		(float64(scores["decisiveness"]) +
			float64(scores["differentiation"]) +
			float64(scores["reasoning_clarity"]) +
			float64(scores["recommendation_strength"])) / 4)
	return scores
}
