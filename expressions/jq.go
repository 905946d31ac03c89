package expressions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query is a compiled jq program.
type Query struct {
	source string
	code   *gojq.Code
}

// CompileQuery parses and compiles a jq expression. $ENV is always empty.
func CompileQuery(expression string) (*Query, error) {
	if expression == "" {
		return nil, errors.New("empty jq expression")
	}
	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", expression, err)
	}
	code, err := gojq.Compile(parsed,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", expression, err)
	}
	return &Query{source: expression, code: code}, nil
}

// Run evaluates the query against v and collects every output.
func (q *Query) Run(ctx context.Context, v any) ([]any, error) {
	iter := q.code.RunWithContext(ctx, normalize(v))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed for %q: %w", q.source, err)
		}
		results = append(results, val)
	}
	return results, nil
}

// normalize converts decoded JSON numbers into the int and float64
// values gojq works with.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalize(v)
		}
		return out
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
		f, _ := val.Float64()
		return f
	case int64:
		return int(val)
	default:
		return v
	}
}
