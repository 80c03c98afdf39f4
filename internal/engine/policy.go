package engine

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// FatalPolicy decides whether a recoverable tool error should instead stop
// the run. The rule is an expr-lang predicate evaluated against the failed
// step; `tool`, `code`, `message` and `failures` are available as variables,
// e.g. `code == "TOOL_EXECUTION" and failures >= 3`.
type FatalPolicy struct {
	rule string
	prg  *vm.Program
}

// NewFatalPolicy compiles the predicate. An empty rule yields a nil policy,
// meaning no escalation.
func NewFatalPolicy(rule string) (*FatalPolicy, error) {
	if rule == "" {
		return nil, nil
	}
	prg, err := expr.Compile(rule,
		expr.Env(policyEnv("", "", "", 0)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile fatal policy %q: %s", rule, err.Error()).WithCause(err)
	}
	return &FatalPolicy{rule: rule, prg: prg}, nil
}

// Escalates reports whether the failed step matches the predicate. Evaluation
// errors never escalate; the run keeps its default recoverable behavior.
func (p *FatalPolicy) Escalates(toolName, code, message string, failures int) bool {
	if p == nil {
		return false
	}
	out, err := vm.Run(p.prg, policyEnv(toolName, code, message, failures))
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

func policyEnv(toolName, code, message string, failures int) map[string]any {
	return map[string]any{
		"tool":     toolName,
		"code":     code,
		"message":  message,
		"failures": failures,
	}
}
