package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/agentgraph/pkg/schema"
)

func TestRenderMermaidShapes(t *testing.T) {
	flow := &schema.FlowDefinition{
		ID:    "support",
		Entry: "start",
		Nodes: []schema.FlowNode{
			{ID: "start", Kind: schema.NodeKindInput},
			{ID: "classify", Kind: schema.NodeKindAgent, Agent: "triage"},
			{ID: "route", Kind: schema.NodeKindDecision, Outputs: []schema.NodeOutput{
				{Label: "billing", Condition: `value == "billing"`},
				{Label: "other"},
			}},
			{ID: "retry-loop", Kind: schema.NodeKindLoop, MaxIterations: 3},
			{ID: "end", Kind: schema.NodeKindOutput},
		},
		Edges: []schema.FlowEdge{
			{From: "start", To: "classify"},
			{From: "classify", To: "route"},
			{From: "route/billing", To: "retry-loop"},
			{From: "route/other", To: "end", Label: "fallthrough"},
		},
	}

	out := RenderMermaid(flow)

	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "%% flow: support")
	assert.Contains(t, out, `start(("start"))`)
	assert.Contains(t, out, `classify["classify: triage"]`)
	assert.Contains(t, out, `route{"route"}`)
	assert.Contains(t, out, `retry_loop[["retry-loop (max 3)"]]`)
	assert.Contains(t, out, "route -->|billing| retry_loop")
	assert.Contains(t, out, "route -->|other: fallthrough| end")
}

func TestRenderMermaidEdgeGuard(t *testing.T) {
	flow := &schema.FlowDefinition{
		ID: "g",
		Nodes: []schema.FlowNode{
			{ID: "a", Kind: schema.NodeKindTool, Tool: "fetch"},
			{ID: "b", Kind: schema.NodeKindOutput},
		},
		Edges: []schema.FlowEdge{
			{From: "a", To: "b", Condition: "len(value) > 0"},
		},
	}

	out := RenderMermaid(flow)
	assert.Contains(t, out, "a -->|len(value) > 0| b")
	assert.Contains(t, out, `a["a: fetch"]`)
}
