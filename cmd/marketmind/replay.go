package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/prompt"
	"github.com/akindell/marketmind/internal/response"
	"github.com/akindell/marketmind/internal/store"
)

// replayLine is one reparsed interaction in the replay output
type replayLine struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	QueryType string    `json:"query_type"`
	Recorded  string    `json:"recorded"`
	Replayed  string    `json:"replayed"`
	Reason    string    `json:"reason,omitempty"`
	Changed   bool      `json:"changed"`
}

// replayFormat maps a stored query type back to the response schema its
// prompt requested.
func replayFormat(queryType string) (prompt.ExpectedFormat, bool) {
	switch prompt.QueryType(queryType) {
	case prompt.QueryNewOpportunity, prompt.QueryPositionReview,
		prompt.QueryMarketRegime, prompt.QueryRiskAssessment:
		return prompt.FormatStandardDecision, true
	case prompt.QueryPortfolioAudit:
		return prompt.FormatRanking, true
	case prompt.QuerySectorRotation, prompt.QueryComparativeAnalysis:
		return prompt.FormatComparison, true
	default:
		return "", false
	}
}

func newReplayCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reparse one day's recorded model responses offline",
		Long: `Reads the llm_interactions recorded on the given date and runs each
response back through the parser. Useful after a parser change to see which
historical responses would now classify differently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if date == "" {
				return &config.ConfigurationError{Field: "--date", Reason: "required, format YYYY-MM-DD"}
			}
			if _, err := time.Parse("2006-01-02", date); err != nil {
				return &config.ConfigurationError{Field: "--date", Reason: fmt.Sprintf("bad date %q: %v", date, err)}
			}

			st, err := store.Open(dataDir(cfg))
			if err != nil {
				return err
			}
			defer st.Close()

			interactions, err := st.InteractionsOn(cmd.Context(), date)
			if err != nil {
				return err
			}

			parser := response.NewParser()
			out := cmd.OutOrStdout()
			var replayed, changed, skipped int
			for _, rec := range interactions {
				format, ok := replayFormat(rec.QueryType)
				if !ok {
					skipped++
					continue
				}
				result := parser.Parse(response.ParseInput{
					Raw:       rec.Response,
					Format:    format,
					QueryType: prompt.QueryType(rec.QueryType),
					Symbol:    rec.Symbol,
					Timestamp: rec.Timestamp,
				})
				line := replayLine{
					Timestamp: rec.Timestamp,
					Symbol:    rec.Symbol,
					QueryType: rec.QueryType,
					Recorded:  rec.Classification,
					Replayed:  string(result.Status),
					Reason:    result.Reason,
					Changed:   rec.Classification != string(result.Status),
				}
				replayed++
				if line.Changed {
					changed++
				}
				enc, err := json.Marshal(line)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(enc))
			}

			fmt.Fprintf(out, "replayed %d interactions (%d changed, %d skipped) for %s\n",
				replayed, changed, skipped, date)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Market date to replay (YYYY-MM-DD)")
	return cmd
}
