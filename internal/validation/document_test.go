package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

func TestPipelineValidDocument(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	result := v.Validate(validDoc())
	assert.True(t, result.Valid())
	require.NoError(t, v.ValidateDocument(validDoc()))
}

func TestPipelineStructuralShortCircuit(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	// Structurally broken AND semantically broken. Only the structural
	// issue surfaces; later stages never run on a malformed document.
	doc := validDoc()
	doc.Flows[0].Nodes[0].Kind = "gateway"
	doc.Flows[0].Entry = "nope"

	result := v.Validate(doc)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotContains(t, issue.Message, "nope")
	}
}

func TestPipelineSemanticSkipsGraphStage(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	// A dangling edge endpoint is a semantic error; the graph stage would
	// report unreachable nodes on top, which is noise. It must be skipped.
	doc := validDoc()
	doc.Flows[0].Edges[0].To = "ghost"

	result := v.Validate(doc)
	require.False(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestPipelineReportsCycle(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	doc := validDoc()
	doc.Flows[0].Edges = append(doc.Flows[0].Edges, schema.FlowEdge{From: "end", To: "classify"})

	result := v.Validate(doc)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestPipelineNilDocument(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	result := v.Validate(nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "nil")
}
