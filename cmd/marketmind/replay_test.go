package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akindell/marketmind/internal/prompt"
)

func TestReplayFormatMapsQueryTypes(t *testing.T) {
	cases := []struct {
		queryType string
		format    prompt.ExpectedFormat
		ok        bool
	}{
		{"NEW_OPPORTUNITY", prompt.FormatStandardDecision, true},
		{"POSITION_REVIEW", prompt.FormatStandardDecision, true},
		{"MARKET_REGIME", prompt.FormatStandardDecision, true},
		{"PORTFOLIO_AUDIT", prompt.FormatRanking, true},
		{"SECTOR_ROTATION", prompt.FormatComparison, true},
		{"COMPARATIVE_ANALYSIS", prompt.FormatComparison, true},
		{"DAILY_SUMMARY", "", false},
	}
	for _, tc := range cases {
		format, ok := replayFormat(tc.queryType)
		assert.Equal(t, tc.ok, ok, tc.queryType)
		assert.Equal(t, tc.format, format, tc.queryType)
	}
}
