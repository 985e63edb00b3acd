package preflight

import (
	"fmt"

	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

// Engine runs gates in registration order.
type Engine struct {
	gates []Gate
	names map[string]int
}

// NewEngine creates an engine with the given gates.
func NewEngine(gates ...Gate) *Engine {
	e := &Engine{names: make(map[string]int)}
	for _, g := range gates {
		e.Register(g)
	}
	return e
}

// DefaultEngine returns the five built-in gates in their fixed order.
func DefaultEngine() *Engine {
	return NewEngine(
		PrivilegeGate{},
		CitationGate{},
		RedactionGate{},
		MetadataGate{},
		MinPagesGate{},
	)
}

// Register appends g. Registering a name twice replaces the earlier gate in place.
func (e *Engine) Register(g Gate) {
	if i, ok := e.names[g.Name()]; ok {
		e.gates[i] = g
		return
	}
	e.names[g.Name()] = len(e.gates)
	e.gates = append(e.gates, g)
}

// Gates returns the registered gate names in order.
func (e *Engine) Gates() []string {
	out := make([]string, len(e.gates))
	for i, g := range e.gates {
		out[i] = g.Name()
	}
	return out
}

// Evaluate runs every registered gate and assembles the report.
func (e *Engine) Evaluate(facts inspect.Facts, rs *rules.RuleSet) *Report {
	results := make([]GateResult, 0, len(e.gates))
	for _, g := range e.gates {
		results = append(results, runGate(g, facts, rs))
	}
	return newReport(results)
}

func runGate(g Gate, facts inspect.Facts, rs *rules.RuleSet) (res GateResult) {
	defer func() {
		if r := recover(); r != nil {
			res = fail(g.Name(), fmt.Sprintf("gate panicked: %v", r))
		}
	}()
	res = g.Evaluate(facts, rs)
	res.Name = g.Name()
	return res
}

// Evaluate runs the built-in gates followed by the optional gates the rule
// set declares: prohibited placeholder patterns, then custom CEL gates in
// file order. A rule set declaring neither yields exactly five entries.
func Evaluate(facts inspect.Facts, rs *rules.RuleSet) *Report {
	e := DefaultEngine()
	if len(rs.ProhibitedPatterns()) > 0 {
		e.Register(ProhibitedGate{})
	}
	for _, cg := range rs.CustomGates() {
		e.Register(NewCELGate(cg.Name, cg.Expr))
	}
	return e.Evaluate(facts, rs)
}
