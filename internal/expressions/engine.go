package expressions

import "context"

// Engine evaluates guard and decision expressions against the run scope.
// Three implementations: Expr (default), CEL (opt-in per document), GoJQ
// (jq tool and jq-prefixed argument extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy converts an expression result into a branch decision. Booleans are
// taken as-is; nil, empty strings, and zero numbers are false; everything
// else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
