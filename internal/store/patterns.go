package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// minPatternSamples is the smallest cohort worth reporting; below this the
// success rate is noise.
const minPatternSamples = 5

// confidenceBand buckets confidence into coarse ranges so cohorts are
// large enough to be meaningful.
func confidenceBand(confidence int) string {
	switch {
	case confidence >= 80:
		return "80-100"
	case confidence >= 65:
		return "65-79"
	case confidence >= 50:
		return "50-64"
	default:
		return "0-49"
	}
}

// DiscoverPatterns groups closed, executed decisions into cohorts keyed by
// (action, sentiment, confidence band) and reports each cohort's realized
// statistics. Pure function of its input: the caller decides what to
// persist.
func DiscoverPatterns(records []DecisionRecord, now time.Time) []PatternRecord {
	type cohort struct {
		conditions map[string]string
		returns    []float64
		wins       int
	}
	cohorts := make(map[string]*cohort)

	for _, rec := range records {
		if !rec.Executed || rec.OutcomePnLPct == nil {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s", rec.Action, rec.Sentiment, confidenceBand(rec.Confidence))
		c, ok := cohorts[key]
		if !ok {
			c = &cohort{conditions: map[string]string{
				"action":          rec.Action,
				"sentiment":       rec.Sentiment,
				"confidence_band": confidenceBand(rec.Confidence),
			}}
			cohorts[key] = c
		}
		c.returns = append(c.returns, *rec.OutcomePnLPct)
		if *rec.OutcomePnLPct > 0 {
			c.wins++
		}
	}

	keys := make([]string, 0, len(cohorts))
	for k := range cohorts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []PatternRecord
	for _, key := range keys {
		c := cohorts[key]
		if len(c.returns) < minPatternSamples {
			continue
		}

		var sum, gains, losses float64
		for _, r := range c.returns {
			sum += r
			if r > 0 {
				gains += r
			} else {
				losses -= r
			}
		}
		riskReward := 0.0
		if losses > 0 {
			riskReward = gains / losses
		}

		conditionsJSON, _ := json.Marshal(c.conditions)
		out = append(out, PatternRecord{
			ID:             "cohort:" + key,
			Type:           "decision_cohort",
			ConditionsJSON: string(conditionsJSON),
			SuccessRate:    float64(c.wins) / float64(len(c.returns)),
			SampleSize:     len(c.returns),
			AvgReturn:      sum / float64(len(c.returns)),
			RiskReward:     riskReward,
			DiscoveredAt:   now,
		})
	}
	return out
}
