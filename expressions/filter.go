package expressions

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled boolean expression. Field names are the flattened
// item keys; a field the item lacks evaluates to nil.
type Filter struct {
	source string
	prg    *vm.Program
}

// CompileFilter compiles expression once for use against many items.
func CompileFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, errors.New("empty filter expression")
	}
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expression, err)
	}
	return &Filter{source: expression, prg: prg}, nil
}

func (f *Filter) String() string { return f.source }

// Match reports whether the expression holds for fields. A result that
// is not a bool is an error.
func (f *Filter) Match(fields map[string]any) (bool, error) {
	env := fields
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(f.prg, env)
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.source, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("filter %q: result is %T, not bool", f.source, out)
	}
	return ok, nil
}
