package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

func TestGraphAcceptsAcyclicFlow(t *testing.T) {
	result := validateGraph(validDoc())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestGraphRejectsCycle(t *testing.T) {
	doc := validDoc()
	doc.Flows[0].Nodes = append(doc.Flows[0].Nodes, schema.FlowNode{
		ID: "review", Kind: schema.NodeKindAgent, Agent: "billing",
	})
	doc.Flows[0].Edges = append(doc.Flows[0].Edges,
		schema.FlowEdge{From: "classify", To: "review"},
		schema.FlowEdge{From: "review", To: "classify"},
	)

	result := validateGraph(doc)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "classify")
	assert.Contains(t, result.Errors[0].Message, "review")
}

func TestGraphPermitsLoopBackEdge(t *testing.T) {
	doc := &schema.FlowDocument{
		Flows: []schema.FlowDefinition{
			{
				ID:    "retry-until-good",
				Entry: "start",
				Nodes: []schema.FlowNode{
					{ID: "start", Kind: schema.NodeKindInput},
					{ID: "again", Kind: schema.NodeKindLoop, MaxIterations: 3},
					{ID: "draft", Kind: schema.NodeKindAgent, Agent: "writer"},
					{ID: "check", Kind: schema.NodeKindDecision, Outputs: []schema.NodeOutput{
						{Label: "retry", Condition: `score < 7`},
						{Label: "done"},
					}},
					{ID: "end", Kind: schema.NodeKindOutput},
				},
				Edges: []schema.FlowEdge{
					{From: "start", To: "again"},
					{From: "again", To: "draft"},
					{From: "draft", To: "check"},
					{From: "check/retry", To: "again"}, // back-edge into the loop node
					{From: "check/done", To: "end"},
				},
			},
		},
	}

	result := validateGraph(doc)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestGraphRejectsUnreachableNodes(t *testing.T) {
	doc := validDoc()
	doc.Flows[0].Nodes = append(doc.Flows[0].Nodes, schema.FlowNode{
		ID: "orphan", Kind: schema.NodeKindAgent, Agent: "billing",
	})

	result := validateGraph(doc)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeValidation, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, `node "orphan" is unreachable`)
}

func divergentFanDoc(converge bool) *schema.FlowDocument {
	return &schema.FlowDocument{
		Flows: []schema.FlowDefinition{{
			ID:    "fan",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "split", Kind: schema.NodeKindParallel, Converge: converge},
				{ID: "left", Kind: schema.NodeKindAgent, Agent: "billing"},
				{ID: "right", Kind: schema.NodeKindAgent, Agent: "billing"},
				{ID: "out-left", Kind: schema.NodeKindOutput},
				{ID: "out-right", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "split"},
				{From: "split", To: "left"},
				{From: "split", To: "right"},
				{From: "left", To: "out-left"},
				{From: "right", To: "out-right"},
			},
		}},
	}
}

func TestGraphRejectsNonConvergingParallel(t *testing.T) {
	result := validateGraph(divergentFanDoc(true))
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Path, ".converge")
	assert.Contains(t, result.Errors[0].Message, "share no join node")
}

func TestGraphAllowsDetachedBranchesWithoutConverge(t *testing.T) {
	result := validateGraph(divergentFanDoc(false))
	assert.True(t, result.Valid())
}

func TestGraphAcceptsConvergingParallel(t *testing.T) {
	doc := divergentFanDoc(true)
	flow := &doc.Flows[0]
	flow.Nodes = flow.Nodes[:4]
	flow.Nodes = append(flow.Nodes,
		schema.FlowNode{ID: "join", Kind: schema.NodeKindMerge},
		schema.FlowNode{ID: "end", Kind: schema.NodeKindOutput},
	)
	flow.Edges = []schema.FlowEdge{
		{From: "start", To: "split"},
		{From: "split", To: "left"},
		{From: "split", To: "right"},
		{From: "left", To: "join"},
		{From: "right", To: "join"},
		{From: "join", To: "end"},
	}

	result := validateGraph(doc)
	assert.True(t, result.Valid())
}

func TestGraphRejectsParallelWithoutBranches(t *testing.T) {
	doc := divergentFanDoc(false)
	flow := &doc.Flows[0]
	flow.Nodes = []schema.FlowNode{
		{ID: "start", Kind: schema.NodeKindInput},
		{ID: "split", Kind: schema.NodeKindParallel},
	}
	flow.Edges = []schema.FlowEdge{{From: "start", To: "split"}}

	result := validateGraph(doc)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "no outgoing branches")
}

func TestGraphWarnsSubflowRecursion(t *testing.T) {
	doc := validDoc()
	doc.Flows = append(doc.Flows,
		schema.FlowDefinition{
			ID:    "a",
			Entry: "a-start",
			Nodes: []schema.FlowNode{
				{ID: "a-start", Kind: schema.NodeKindInput},
				{ID: "call-b", Kind: schema.NodeKindSubflow, Flow: "b"},
			},
			Edges: []schema.FlowEdge{{From: "a-start", To: "call-b"}},
		},
		schema.FlowDefinition{
			ID:    "b",
			Entry: "b-start",
			Nodes: []schema.FlowNode{
				{ID: "b-start", Kind: schema.NodeKindInput},
				{ID: "call-a", Kind: schema.NodeKindSubflow, Flow: "a"},
			},
			Edges: []schema.FlowEdge{{From: "b-start", To: "call-a"}},
		},
	)

	result := validateGraph(doc)
	assert.True(t, result.Valid())

	var recursive []string
	for _, w := range result.Warnings {
		if w.Code == schema.ErrCodeCycleDetected {
			recursive = append(recursive, w.Message)
		}
	}
	require.Len(t, recursive, 2)
	assert.Contains(t, recursive[0], "subflow reference cycle")
}
