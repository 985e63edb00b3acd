package preflight

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/briefgate/pkg/inspect"
	"github.com/Mindburn-Labs/briefgate/pkg/rules"
)

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error

	prgMu    sync.RWMutex
	prgCache = map[string]cel.Program{}
)

func environment() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("text", cel.StringType),
			cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
			cel.Variable("pages", cel.IntType),
			cel.Variable("citations", cel.ListType(cel.StringType)),
		)
	})
	return celEnv, celEnvErr
}

func program(expr string) (cel.Program, error) {
	prgMu.RLock()
	prg, ok := prgCache[expr]
	prgMu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := environment()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	prg, err = env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	prgMu.Lock()
	prgCache[expr] = prg
	prgMu.Unlock()
	return prg, nil
}

// CELGate evaluates a boolean CEL expression declared in the rule file.
// The expression sees text, metadata, pages and citations.
type CELGate struct {
	name string
	expr string
}

// NewCELGate returns a gate reported as "custom:<name>".
func NewCELGate(name, expr string) CELGate {
	return CELGate{name: customPrefix + name, expr: expr}
}

func (g CELGate) Name() string { return g.name }

func (g CELGate) Evaluate(f inspect.Facts, _ *rules.RuleSet) GateResult {
	prg, err := program(g.expr)
	if err != nil {
		return fail(g.name, "error: "+err.Error())
	}

	md := f.Metadata
	if md == nil {
		md = map[string]string{}
	}
	cites := f.Citations
	if cites == nil {
		cites = []string{}
	}
	out, _, err := prg.Eval(map[string]any{
		"text":      f.VisibleText,
		"metadata":  md,
		"pages":     int64(f.PageCount),
		"citations": cites,
	})
	if err != nil {
		return fail(g.name, "error: "+err.Error())
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fail(g.name, fmt.Sprintf("error: non-bool result %v", out.Value()))
	}
	if !ok {
		return fail(g.name, "expression false: "+g.expr)
	}
	return pass(g.name, "expression true")
}
