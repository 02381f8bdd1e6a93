package schema

// NodeKind is the closed set of node types a flow graph may contain.
type NodeKind string

const (
	NodeKindInput    NodeKind = "input"
	NodeKindOutput   NodeKind = "output"
	NodeKindAgent    NodeKind = "agent"
	NodeKindDecision NodeKind = "decision"
	NodeKindTool     NodeKind = "tool"
	NodeKindMerge    NodeKind = "merge"
	NodeKindParallel NodeKind = "parallel"
	NodeKindLoop     NodeKind = "loop"
	NodeKindSubflow  NodeKind = "subflow"
)

// KnownNodeKinds lists every accepted node kind.
var KnownNodeKinds = []NodeKind{
	NodeKindInput, NodeKindOutput, NodeKindAgent, NodeKindDecision,
	NodeKindTool, NodeKindMerge, NodeKindParallel, NodeKindLoop, NodeKindSubflow,
}

// IsValid reports whether k is one of the known node kinds.
func (k NodeKind) IsValid() bool {
	for _, known := range KnownNodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// FlowNode is a single typed node in a flow graph. Kind-specific fields are
// optional and only meaningful for their kind; validation enforces presence.
type FlowNode struct {
	ID          string       `json:"id" yaml:"id"`
	Kind        NodeKind     `json:"kind" yaml:"kind"`
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []NodeInput  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []NodeOutput `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Layout      *NodeLayout  `json:"layout,omitempty" yaml:"layout,omitempty"`

	// Agent node.
	Agent        string   `json:"agent,omitempty" yaml:"agent,omitempty"`
	Prompt       string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Strategy     string   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Participants []string `json:"participants,omitempty" yaml:"participants,omitempty"`

	// Agent node call overrides, layered over agent and engine defaults.
	Parameters *CallSettings `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Decision node: "rules" (default) or "llm".
	Decision string `json:"decision,omitempty" yaml:"decision,omitempty"`

	// Tool node.
	Tool      string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`

	// Parallel node.
	Converge bool `json:"converge,omitempty" yaml:"converge,omitempty"`

	// Loop node.
	MaxIterations int    `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Condition     string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Subflow node.
	Flow string `json:"flow,omitempty" yaml:"flow,omitempty"`
}

// NodeInput declares an incoming value slot, bound by an edge landing on it.
type NodeInput struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	From string `json:"from,omitempty" yaml:"from,omitempty"`
}

// NodeOutput declares a labeled output port. Decision nodes guard ports with
// conditions; the final conditionless port acts as the catch-all.
type NodeOutput struct {
	Label     string `json:"label" yaml:"label"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// NodeLayout is editor-only placement data, preserved but ignored by the engine.
type NodeLayout struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// OutputLabels returns the declared output labels, or nil for the implicit
// single output.
func (n *FlowNode) OutputLabels() []string {
	if len(n.Outputs) == 0 {
		return nil
	}
	labels := make([]string, len(n.Outputs))
	for i, out := range n.Outputs {
		labels[i] = out.Label
	}
	return labels
}

// HasOutput reports whether the node declares the given output label.
// An empty label matches a node with no declared outputs (implicit port).
func (n *FlowNode) HasOutput(label string) bool {
	if label == "" {
		return len(n.Outputs) == 0
	}
	for _, out := range n.Outputs {
		if out.Label == label {
			return true
		}
	}
	return false
}
