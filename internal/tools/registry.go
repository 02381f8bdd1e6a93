package tools

import (
	"sort"
	"sync"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Registry is a thread-safe tool lookup table. Tools are registered at
// startup from the document's tool definitions plus host-provided functions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	retry map[string]*schema.RetryPolicy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		retry: make(map[string]*schema.RetryPolicy),
	}
}

// Register adds a tool. Duplicate IDs are rejected.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	id := tool.ID()
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[id]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "tool %q already registered", id)
	}

	r.tools[id] = tool
	return nil
}

// SetRetryPolicy attaches a per-tool retry policy, from the tool definition.
func (r *Registry) SetRetryPolicy(id string, policy *schema.RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry[id] = policy
}

// RetryPolicy returns the retry policy for a tool, or nil when none is set.
// Tools without a policy are never retried.
func (r *Registry) RetryPolicy(id string) *schema.RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retry[id]
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not registered", id)
	}
	return tool, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// List returns info for all registered tools, sorted by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, tool := range r.tools {
		infos = append(infos, Info{ID: tool.ID(), Description: tool.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
