package schema

import "time"

// Run event types emitted over the life of a run, in causal order.
const (
	EventRunStarted       = "run_started"
	EventNodeStarted      = "node_started"
	EventNodeCompleted    = "node_completed"
	EventNodeFailed       = "node_failed"
	EventTurnAppended     = "turn_appended"
	EventDecisionMade     = "decision_made"
	EventToolInvoked      = "tool_invoked"
	EventHandoff          = "handoff"
	EventBranchCancelled  = "branch_cancelled"
	EventSubflowStarted   = "subflow_started"
	EventSubflowCompleted = "subflow_completed"
	EventRunCompleted     = "run_completed"
	EventRunFailed        = "run_failed"
)

// RunEvent is one entry in a run's audit trail. Sequence is monotonically
// increasing within a run.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	FlowID    string         `json:"flow_id"`
	NodeID    string         `json:"node_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result is the outcome of a completed run.
type Result struct {
	RunID       string         `json:"run_id"`
	FlowID      string         `json:"flow_id"`
	FinalOutput any            `json:"final_output"`
	Transcript  []Turn         `json:"transcript"`
	ToolResults map[string]any `json:"tool_results,omitempty"`
	Events      []RunEvent     `json:"events,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}
