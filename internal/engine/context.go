package engine

import (
	"sync"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/transcript"
	"github.com/rendis/agentgraph/pkg/schema"
)

// ExecutionContext is the runtime state of one flow invocation: the shared
// transcript, the output bindings, the subflow call stack, and the per-loop
// iteration counters. Each subflow invocation gets its own context; only node
// handlers mutate it.
type ExecutionContext struct {
	RunID string
	Flow  *schema.FlowDefinition
	Task  any

	Scope      *expressions.ScopeBuilder
	Transcript *transcript.Transcript

	// CallStack holds the ids of in-flight flow invocations, outermost first.
	// Subflow entry checks it for cycles before any model or tool call.
	CallStack []string

	mu          sync.Mutex
	iterations  map[string]int
	toolResults map[string]any
}

// newExecutionContext creates the context for a top-level flow run.
func newExecutionContext(runID string, flow *schema.FlowDefinition, task any) *ExecutionContext {
	return &ExecutionContext{
		RunID: runID,
		Flow:  flow,
		Task:  task,
		Scope: expressions.NewScopeBuilder(task, map[string]any{
			"run_id":  runID,
			"flow_id": flow.ID,
		}),
		Transcript:  transcript.New(),
		CallStack:   []string{flow.ID},
		iterations:  make(map[string]int),
		toolResults: make(map[string]any),
	}
}

// Child creates the context for a subflow invocation: fresh bindings and
// counters, a transcript seeded from the parent's, and the parent's call
// stack extended with the child flow id.
func (ec *ExecutionContext) Child(flow *schema.FlowDefinition, task any) *ExecutionContext {
	stack := make([]string, len(ec.CallStack), len(ec.CallStack)+1)
	copy(stack, ec.CallStack)

	return &ExecutionContext{
		RunID: ec.RunID,
		Flow:  flow,
		Task:  task,
		Scope: expressions.NewScopeBuilder(task, map[string]any{
			"run_id":  ec.RunID,
			"flow_id": flow.ID,
		}),
		Transcript:  transcript.Seed(ec.Transcript.Snapshot()),
		CallStack:   append(stack, flow.ID),
		iterations:  make(map[string]int),
		toolResults: make(map[string]any),
	}
}

// OnStack reports whether the given flow id is already being invoked.
func (ec *ExecutionContext) OnStack(flowID string) bool {
	for _, id := range ec.CallStack {
		if id == flowID {
			return true
		}
	}
	return false
}

// Iteration returns the current iteration count for a loop node, 0 when the
// loop is not active.
func (ec *ExecutionContext) Iteration(nodeID string) (int, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	n, ok := ec.iterations[nodeID]
	return n, ok
}

// SetIteration records the iteration count for a loop node.
func (ec *ExecutionContext) SetIteration(nodeID string, n int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.iterations[nodeID] = n
}

// ClearIteration resets a loop node's counter on exit, so a fresh entry
// starts over.
func (ec *ExecutionContext) ClearIteration(nodeID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	delete(ec.iterations, nodeID)
}

// RecordToolResult stores a tool node's result for the run summary.
func (ec *ExecutionContext) RecordToolResult(nodeID string, result any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.toolResults[nodeID] = result
}

// ToolResults returns a copy of the recorded tool results.
func (ec *ExecutionContext) ToolResults() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.toolResults))
	for k, v := range ec.toolResults {
		out[k] = v
	}
	return out
}
