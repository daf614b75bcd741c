package runs

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter selects runs with a CEL expression evaluated against each run.
// The expression sees the variables account_number, name, environment,
// path and status as strings, and completed as a timestamp:
//
//	account_number == "1234" && completed > timestamp("2024-01-01T00:00:00Z")
//
// A nil Filter matches every run.
type Filter struct {
	expr string
	prg  cel.Program
}

// NewFilter compiles expr. An empty expression returns a nil Filter.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("account_number", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("completed", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid run filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("run filter %q must be a boolean expression, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid run filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the filter expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether r satisfies the filter.
func (f *Filter) Match(r *Run) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"account_number": r.AccountNumber,
		"name":           r.Name,
		"environment":    r.Environment(),
		"path":           r.Path,
		"status":         r.Status,
		"completed":      r.Completed,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate run filter on %s: %w", r.Path, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("run filter returned %T, want bool", out.Value())
	}
	return b, nil
}

// Select returns the runs that match f.
func (f *Filter) Select(rs []*Run) ([]*Run, error) {
	if f == nil {
		return rs, nil
	}
	out := make([]*Run, 0, len(rs))
	for _, r := range rs {
		ok, err := f.Match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
