package expressions

import (
	"sync"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Scope is the variable environment handed to expression engines.
// Env() flattens it into the map the engines expect.
type Scope struct {
	Nodes     map[string]any // node ID -> output value, or label -> value map
	Task      any            // the run's task input
	Flow      map[string]any // run metadata (run_id, flow_id)
	Value     any            // value flowing on the evaluated port
	Iteration int            // loop iteration counter, 0 outside loops
}

// Env returns the flattened environment map for engine evaluation.
func (s *Scope) Env() map[string]any {
	nodes := s.Nodes
	if nodes == nil {
		nodes = map[string]any{}
	}
	flow := s.Flow
	if flow == nil {
		flow = map[string]any{}
	}
	return map[string]any{
		"nodes":     nodes,
		"task":      s.Task,
		"flow":      flow,
		"value":     s.Value,
		"iteration": s.Iteration,
	}
}

// ScopeBuilder accumulates node outputs over a run and produces Scope
// snapshots with proper isolation:
//   - Node outputs are frozen on insert (deep-copied).
//   - Outputs may be re-bound only via Rebind, used when a loop body re-runs.
//   - Build snapshots are themselves deep copies, so concurrent node
//     evaluations never observe each other's mutations.
type ScopeBuilder struct {
	mu    sync.RWMutex
	nodes map[string]any // "<nodeID>" or "<nodeID>/<label>" -> frozen value
	task  any
	flow  map[string]any
}

// NewScopeBuilder creates a ScopeBuilder seeded with the run's task input
// and metadata. Both are deep-copied to prevent external mutation.
func NewScopeBuilder(task any, flow map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		nodes: make(map[string]any),
		task:  deepCopyAny(task),
		flow:  deepCopyMap(flow),
	}
}

// Bind registers a node output under "<nodeID>/<label>" (bare node ID for the
// implicit output). The value is frozen at insertion time. Re-binding an
// existing key is rejected; loop bodies use Rebind.
func (sb *ScopeBuilder) Bind(ref string, value any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.nodes[ref]; exists {
		return schema.NewErrorf(schema.ErrCodeExpression,
			"output %q already bound; node outputs are immutable within an iteration", ref)
	}

	sb.nodes[ref] = deepCopyAny(value)
	return nil
}

// Rebind overwrites a binding, used when a loop body re-executes a node.
func (sb *ScopeBuilder) Rebind(ref string, value any) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.nodes[ref] = deepCopyAny(value)
}

// Unbind drops bindings for the given refs, used to reset a loop body region.
func (sb *ScopeBuilder) Unbind(refs ...string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, ref := range refs {
		delete(sb.nodes, ref)
	}
}

// Lookup returns the bound value for a ref and whether it exists.
func (sb *ScopeBuilder) Lookup(ref string) (any, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	v, ok := sb.nodes[ref]
	return v, ok
}

// Build creates a Scope snapshot safe for concurrent use. Node bindings are
// nested so expressions address them as nodes.<id>.<label> (or nodes["id"]
// for the implicit output).
func (sb *ScopeBuilder) Build() *Scope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	nested := make(map[string]any, len(sb.nodes))
	for ref, value := range sb.nodes {
		node, label := schema.SplitPortRef(ref)
		if label == "" {
			if _, taken := nested[node]; !taken {
				nested[node] = deepCopyAny(value)
			}
			continue
		}
		sub, ok := nested[node].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			nested[node] = sub
		}
		sub[label] = deepCopyAny(value)
	}

	return &Scope{
		Nodes: nested,
		Task:  sb.task, // frozen at init
		Flow:  sb.flow, // frozen at init
	}
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
