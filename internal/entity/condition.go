package entity

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition is a compiled when= filter. It is evaluated against the
// deck's runtime condition variables (a flat string map); a version is
// eligible only while its condition holds. Versions without a condition
// are always eligible but rank below conditioned ones.
type Condition struct {
	source  string
	program *vm.Program
}

// CompileCondition compiles a when= expression. Variables resolve
// against the deck's condition map; unknown variables evaluate to nil
// so that conditions can reference inputs that do not exist yet.
func CompileCondition(source string) (*Condition, error) {
	program, err := expr.Compile(source,
		expr.Env(map[string]string{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	return &Condition{source: source, program: program}, nil
}

// Eval reports whether the condition holds for the given variables.
// A failed evaluation counts as false, never as an error: a version
// whose condition cannot be evaluated is simply not eligible.
func (c *Condition) Eval(vars map[string]string) bool {
	if c == nil {
		return true
	}
	if vars == nil {
		vars = map[string]string{}
	}
	out, err := expr.Run(c.program, vars)
	if err != nil {
		return false
	}
	return truthy(out)
}

// String returns the original expression source.
func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.source
}

// truthy maps an expression result onto eligibility.
func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case int:
		return value != 0
	case int64:
		return value != 0
	case float64:
		return value != 0
	default:
		return true
	}
}
