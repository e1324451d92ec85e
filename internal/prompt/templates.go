package prompt

// Task instruction bodies, keyed by query type. These describe HOW to
// reason, never WHAT to conclude: no symbols, prices, or threshold values
// appear here, so a response that parrots a template back is detectable as
// non-analysis.
var taskInstructions = map[QueryType]string{
	QueryNewOpportunity: `Evaluate whether this symbol is worth opening a new position in right now.
Weigh the technical picture against the news context. State what would
have to change for you to take the opposite view. If the evidence is
mixed, say so and hold.`,

	QueryPositionReview: `Review this existing holding and decide whether to keep it, add to it,
or exit. Compare how the position has developed against the reason it
was opened. A position that has lost its thesis should be sold even at
a loss; a working position should not be cut short on noise.`,

	QueryPortfolioAudit: `Rank every current holding from strongest to weakest. Judge each on its
own merits and relative to the others. Identify which positions deserve
more capital, which are dead weight, and whether the overall mix is too
concentrated in one theme.`,

	QueryComparativeAnalysis: `Compare the listed candidates head to head. Pick the single strongest
one, name the runner-up, and call out any candidate that should be
avoided outright. Explain what separates the winner from the rest.`,

	QueryTradePostmortem: `This trade is closed. Analyze what went right and what went wrong,
separating the quality of the decision from the quality of the outcome.
State one concrete lesson that should change future behavior, phrased
as a rule that can be checked against the next similar setup.`,

	QueryMarketRegime: `Characterize the current market environment. Is this a market that
rewards adding risk, reducing risk, or waiting? Base the judgment on
the breadth and volatility evidence provided, not on a general market
narrative.`,

	QuerySectorRotation: `Assess which sectors money is flowing into and out of. Identify whether
any current holdings sit in a weakening sector and whether the
watchlist offers better exposure to a strengthening one.`,

	QueryRiskAssessment: `Assess the portfolio's current risk. Consider concentration, correlated
positions, exposure relative to equity, and how much damage a broad
market drop would do. Recommend the single most effective risk
reduction if one is warranted.`,
}

// Response format skeletons, keyed by expected format. The parser enforces
// the matching schema.
var responseFormats = map[ExpectedFormat]string{
	FormatStandardDecision: `Respond with a single JSON object and nothing else:
{
  "action": "buy" | "sell" | "hold",
  "confidence": <integer 0-100>,
  "sentiment": "bullish" | "bearish" | "neutral",
  "reasoning": "<your analysis in 2-4 sentences>",
  "risk_factors": [{"severity": "LOW" | "MEDIUM" | "HIGH", "text": "<risk>"}],
  "shares": <integer, optional, only for buy or sell>
}`,

	FormatRanking: `Respond with a single JSON object and nothing else:
{
  "ranked_positions": [
    {"symbol": "<symbol>", "rank": <1 is strongest>, "score": <0-100>, "action": "keep" | "hold" | "sell", "reason": "<one sentence>"}
  ],
  "summary": "<overall portfolio assessment in 1-2 sentences>"
}
Every holding must appear exactly once and ranks must run 1..N with no gaps.`,

	FormatComparison: `Respond with a single JSON object and nothing else:
{
  "winner": {"symbol": "<symbol>", "score": <0-100>, "reason": "<why it wins>"},
  "runner_up": {"symbol": "<symbol>", "score": <0-100>, "reason": "<one sentence>"},
  "avoid": {"symbol": "<symbol>", "score": <0-100>, "reason": "<one sentence>"}
}
Omit runner_up or avoid if there is no meaningful candidate for them.`,

	FormatDataRequest: `If you can decide now, respond with the standard decision object. If you
genuinely need more data first, respond instead with:
{
  "needs_more_data": true,
  "requested_data": ["<data item>", ...]
}`,
}

// TemplateLiterals returns every fixed text block that could appear
// verbatim in a prompt for the given query type. The response parser uses
// these to detect a model that copied instruction text back instead of
// producing analysis.
func TemplateLiterals(queryType QueryType) []string {
	var literals []string
	if body, ok := taskInstructions[queryType]; ok {
		literals = append(literals, body)
	}
	for _, body := range []string{
		responseFormats[FormatStandardDecision],
		responseFormats[FormatRanking],
		responseFormats[FormatComparison],
		responseFormats[FormatDataRequest],
	} {
		literals = append(literals, body)
	}
	return literals
}
