package schema

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultVersion is assumed when a document omits the version field.
const DefaultVersion = "0.1"

// FlowDocument is the persisted flow representation the engine accepts.
// The authoring tool is one possible producer of it; the engine only consumes.
type FlowDocument struct {
	Version  string            `json:"version,omitempty" yaml:"version,omitempty"`
	Metadata *FlowMetadata     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Agents   []AgentDefinition `json:"agents,omitempty" yaml:"agents,omitempty"`
	Tools    []ToolDefinition  `json:"tools,omitempty" yaml:"tools,omitempty"`
	Prompts  []PromptDefinition `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Flows    []FlowDefinition  `json:"flows,omitempty" yaml:"flows,omitempty"`
	Settings *DocumentSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// FlowMetadata carries presentation-only document metadata.
type FlowMetadata struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// DocumentSettings holds document-wide engine settings.
type DocumentSettings struct {
	// Expressions selects the condition engine: "expr" (default) or "cel".
	Expressions string `json:"expressions,omitempty" yaml:"expressions,omitempty"`
}

// AgentDefinition declares a language-model agent. Immutable after load.
type AgentDefinition struct {
	ID           string        `json:"id" yaml:"id"`
	Model        string        `json:"model" yaml:"model"`
	Name         string        `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Tools        []string      `json:"tools,omitempty" yaml:"tools,omitempty"`
	Defaults     *CallSettings `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// ToolDefinition declares an invokable tool. Immutable after load.
type ToolDefinition struct {
	ID          string       `json:"id" yaml:"id"`
	Kind        string       `json:"kind" yaml:"kind"` // function | http | jq
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Spec        string       `json:"spec,omitempty" yaml:"spec,omitempty"`
	Function    string       `json:"function,omitempty" yaml:"function,omitempty"`
	Retry       *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// PromptDefinition names a reusable prompt, inline or file-backed.
type PromptDefinition struct {
	ID          string `json:"id" yaml:"id"`
	File        string `json:"file,omitempty" yaml:"file,omitempty"`
	Text        string `json:"text,omitempty" yaml:"text,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// FlowDefinition is one named graph of typed nodes and labeled edges.
type FlowDefinition struct {
	ID       string            `json:"id" yaml:"id"`
	Entry    string            `json:"entry" yaml:"entry"`
	Nodes    []FlowNode        `json:"nodes" yaml:"nodes"`
	Edges    []FlowEdge        `json:"edges,omitempty" yaml:"edges,omitempty"`
	Strategy string            `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	GroupChat *GroupChatOptions `json:"group_chat,omitempty" yaml:"group_chat,omitempty"`
	Handoff  *HandoffOptions   `json:"handoff,omitempty" yaml:"handoff,omitempty"`
}

// Node returns the node with the given id, or nil.
func (f *FlowDefinition) Node(id string) *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// GroupChatOptions configures the group-chat strategy for a flow.
type GroupChatOptions struct {
	MaximumRounds       int `json:"maximum_rounds,omitempty" yaml:"maximum_rounds,omitempty"`
	UserPromptFrequency int `json:"user_prompt_frequency,omitempty" yaml:"user_prompt_frequency,omitempty"`
}

// HandoffOptions configures the handoff strategy for a flow.
type HandoffOptions struct {
	MaxHandoffs      int             `json:"max_handoffs,omitempty" yaml:"max_handoffs,omitempty"`
	MaxRounds        int             `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty"`
	ForceHandoffTool bool            `json:"force_handoff_tool,omitempty" yaml:"force_handoff_tool,omitempty"`
	Aliases          []HandoffAlias  `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Rules            []HandoffRule   `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// HandoffAlias maps an alternate spelling to a registered agent id.
type HandoffAlias struct {
	Alias  string `json:"alias" yaml:"alias"`
	Target string `json:"target" yaml:"target"`
}

// HandoffRule is a deterministic handoff trigger matched against assistant text.
type HandoffRule struct {
	ID      string   `json:"id,omitempty" yaml:"id,omitempty"`
	Target  string   `json:"target" yaml:"target"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
	Matcher RuleMatcher `json:"matcher" yaml:"matcher"`
}

// RuleMatcher selects how a handoff rule matches: keyword presence or regex.
type RuleMatcher struct {
	Kind     string   `json:"kind" yaml:"kind"` // keywords_any | keywords_all | regex
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// FlowEdge connects a node output to a target node, optionally guarded.
type FlowEdge struct {
	From      string `json:"from" yaml:"from"` // "<nodeId>/<outputLabel>" or bare "<nodeId>"
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
}

// SourceNode returns the node id part of the edge's From reference.
func (e *FlowEdge) SourceNode() string {
	node, _ := SplitPortRef(e.From)
	return node
}

// SourceLabel returns the output label part of the edge's From reference,
// or "" for the implicit single output.
func (e *FlowEdge) SourceLabel() string {
	_, label := SplitPortRef(e.From)
	return label
}

// SplitPortRef splits a "<nodeId>/<outputLabel>" reference. A bare node id
// yields an empty label, addressing the implicit single output.
func SplitPortRef(ref string) (node, label string) {
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// PortRef builds a "<nodeId>/<outputLabel>" reference.
func PortRef(node, label string) string {
	if label == "" {
		return node
	}
	return node + "/" + label
}

// FromYAML parses a flow document from YAML and applies defaults.
func FromYAML(data []byte) (*FlowDocument, error) {
	var doc FlowDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse flow document: %s", err.Error()).WithCause(err)
	}
	doc.applyDefaults()
	return &doc, nil
}

// FromJSON parses a flow document from JSON and applies defaults.
func FromJSON(data []byte) (*FlowDocument, error) {
	var doc FlowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse flow document: %s", err.Error()).WithCause(err)
	}
	doc.applyDefaults()
	return &doc, nil
}

func (d *FlowDocument) applyDefaults() {
	if d.Version == "" {
		d.Version = DefaultVersion
	}
}

// Flow returns the flow with the given id, or nil.
func (d *FlowDocument) Flow(id string) *FlowDefinition {
	for i := range d.Flows {
		if d.Flows[i].ID == id {
			return &d.Flows[i]
		}
	}
	return nil
}

// Agent returns the agent definition with the given id, or nil.
func (d *FlowDocument) Agent(id string) *AgentDefinition {
	for i := range d.Agents {
		if d.Agents[i].ID == id {
			return &d.Agents[i]
		}
	}
	return nil
}

// Tool returns the tool definition with the given id, or nil.
func (d *FlowDocument) Tool(id string) *ToolDefinition {
	for i := range d.Tools {
		if d.Tools[i].ID == id {
			return &d.Tools[i]
		}
	}
	return nil
}

// Prompt returns the prompt definition with the given id, or nil.
func (d *FlowDocument) Prompt(id string) *PromptDefinition {
	for i := range d.Prompts {
		if d.Prompts[i].ID == id {
			return &d.Prompts[i]
		}
	}
	return nil
}
