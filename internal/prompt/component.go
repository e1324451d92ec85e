package prompt

import "sort"

// Component is one independently renderable prompt section. Components
// never talk to each other; everything they need arrives in the
// QueryContext.
type Component interface {
	// Name identifies the component in logs
	Name() string

	// Priority orders sections top to bottom, highest first
	Priority() int

	// Relevant reports whether this section belongs in the prompt at all
	Relevant(qc *QueryContext) bool

	// Render produces the section text. Called only when Relevant is true;
	// an empty return drops the section.
	Render(qc *QueryContext) string
}

// registry is the fixed component set, in declaration order. Assembly
// sorts by priority descending with a stable sort, so ties keep this
// order. There is no runtime registration; adding a component is a code
// change.
var registry = []Component{
	queryTypeComponent{},
	triggerComponent{},
	tradingProfileComponent{},
	overnightContextComponent{},
	positionDataComponent{},
	technicalDataComponent{},
	portfolioSummaryComponent{},
	newsComponent{},
	marketRegimeComponent{},
	comparativeDataComponent{},
	taskInstructionComponent{},
	responseFormatComponent{},
}

// orderedComponents returns the registry sorted by priority descending
func orderedComponents() []Component {
	out := make([]Component, len(registry))
	copy(out, registry)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}
