// Package condition provides compile-time validation and runtime evaluation
// of the boolean expressions used for poll expectations and pattern
// preconditions, e.g. `body.state == "ACTIVE"`.
package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Compiled represents a compiled condition ready for evaluation.
type Compiled struct {
	Source  string
	program *vm.Program
}

// Context holds the runtime variables available to conditions.
type Context struct {
	// Body is the decoded response body of the most recent outcome.
	Body map[string]any
	// Status is the HTTP status code or CLI exit code of the outcome.
	Status int
	// State maps resource type to alias to lifecycle state name.
	State map[string]map[string]string
	// Vars holds the session's saved variables.
	Vars map[string]any
}

func (c *Context) env() map[string]any {
	body := c.Body
	if body == nil {
		body = map[string]any{}
	}
	state := c.State
	if state == nil {
		state = map[string]map[string]string{}
	}
	vars := c.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"body":   body,
		"status": c.Status,
		"state":  state,
		"vars":   vars,
	}
}

// Compile validates and compiles a condition for later evaluation.
// The environment shape is not known until runtime, so compilation is
// untyped; type errors surface at evaluation time.
func Compile(source string) (*Compiled, error) {
	if source == "" {
		return nil, fmt.Errorf("empty condition")
	}
	program, err := expr.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("condition compile error: %w", err)
	}
	return &Compiled{Source: source, program: program}, nil
}

// ValidateSyntax checks whether a condition is syntactically valid.
func ValidateSyntax(source string) error {
	_, err := Compile(source)
	return err
}

// Eval evaluates a compiled condition against the given context.
func Eval(compiled *Compiled, ctx *Context) (any, error) {
	if compiled == nil || compiled.program == nil {
		return nil, fmt.Errorf("nil compiled condition")
	}
	result, err := expr.Run(compiled.program, ctx.env())
	if err != nil {
		return nil, fmt.Errorf("condition eval error for %q: %w", compiled.Source, err)
	}
	return result, nil
}

// EvalBool evaluates a compiled condition expecting a boolean result.
func EvalBool(compiled *Compiled, ctx *Context) (bool, error) {
	result, err := Eval(compiled, ctx)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, expected bool", compiled.Source, result)
	}
	return b, nil
}

// EvalBoolString compiles and evaluates a condition source in one step.
func EvalBoolString(source string, ctx *Context) (bool, error) {
	compiled, err := Compile(source)
	if err != nil {
		return false, err
	}
	return EvalBool(compiled, ctx)
}
