package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Interpolator resolves ${{...}} references in prompt text and literal tool
// arguments against the run scope. Supported namespaces:
//   - nodes.<id>[.<label>][.<field>...] — bound node outputs
//   - task[.<field>...]                 — the run's task input
//   - flow.<field>                      — run metadata (run_id, flow_id)
//   - iteration                         — loop iteration counter
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// ResolveString interpolates every ${{...}} token in the input string.
// Resolved values are embedded inline: strings verbatim, other types as JSON.
func (interp *Interpolator) ResolveString(input string, scope *Scope) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{".

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeExpression, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(input[start:end])

		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeExpression,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeExpression, "empty variable reference: ${{  }}")
		}

		val, err := interp.resolveRef(ref, scope)
		if err != nil {
			return "", err
		}

		result.WriteString(marshalInline(val))
		i = end + 2 // skip "}}".
	}

	return result.String(), nil
}

// ResolveValue interpolates string values inside an arbitrary argument value.
// A string consisting of exactly one ${{...}} token resolves to the referenced
// value with its type preserved; mixed strings resolve to text.
func (interp *Interpolator) ResolveValue(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		if ref, whole := wholeRef(v); whole {
			return interp.resolveRef(ref, scope)
		}
		return interp.ResolveString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := interp.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := interp.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// wholeRef reports whether s is exactly one ${{...}} token and returns the
// inner reference.
func wholeRef(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[3 : len(trimmed)-2]
	if strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// resolveRef resolves a single reference path like "nodes.classify.label".
func (interp *Interpolator) resolveRef(ref string, scope *Scope) (any, error) {
	parts := strings.SplitN(ref, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "nodes":
		if len(parts) < 2 || parts[1] == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"invalid node reference %q: expected nodes.<id>[.<field>]", ref)
		}
		if scope.Nodes == nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"cannot resolve %q: no node outputs bound yet", ref)
		}
		return traversePath(scope.Nodes, parts[1], ref)
	case "task":
		if len(parts) == 1 {
			return scope.Task, nil
		}
		return traversePath(scope.Task, parts[1], ref)
	case "flow":
		if len(parts) < 2 || parts[1] == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"invalid flow reference %q: expected flow.<field>", ref)
		}
		return traversePath(scope.Flow, parts[1], ref)
	case "iteration":
		return scope.Iteration, nil
	default:
		available := []string{"nodes", "task", "flow", "iteration"}
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": available})
	}
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, ref string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"empty segment in path %q at position %d", ref, i)
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeExpression,
					"field %q not found in %q; available: [%s]", seg, ref, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": ref, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current)
		}
	}

	return current, nil
}

// marshalInline converts a resolved value into its inline text representation.
// Strings are embedded without quotes; complex types are JSON-encoded.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation checks if a string contains any ${{...}} references.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}
