package prompt

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/config"
)

// SystemPrompt is the fixed system message for every trading interaction.
// Persona and data arrive through the user prompt, so the system message
// stays cacheable across calls.
const SystemPrompt = `You are a disciplined equity trading analyst for a fully automated
paper-trading account. You receive structured market data and respond
with exactly one JSON object in the requested schema. You never invent
data you were not given, and you say "hold" when the evidence does not
clearly support action.`

// Assembler builds prompts from typed QueryContexts. Assembly is
// deterministic: the same context yields the same bytes.
type Assembler struct {
	logger zerolog.Logger
}

// NewAssembler creates an assembler
func NewAssembler() *Assembler {
	return &Assembler{logger: config.NewLogger("prompt")}
}

// Build validates the context and renders all relevant components in
// priority order, joined by blank lines.
func (a *Assembler) Build(qc *QueryContext) (string, error) {
	if err := qc.Validate(); err != nil {
		return "", fmt.Errorf("prompt assembly: %w", err)
	}

	var sections []string
	var included []string
	for _, comp := range orderedComponents() {
		if !comp.Relevant(qc) {
			continue
		}
		text := comp.Render(qc)
		if text == "" {
			continue
		}
		sections = append(sections, text)
		included = append(included, comp.Name())
	}

	a.logger.Debug().
		Str("query_type", string(qc.QueryType)).
		Str("symbol", qc.PrimarySymbol).
		Strs("components", included).
		Msg("Assembled prompt")

	return strings.Join(sections, "\n\n"), nil
}
