package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQEngineName(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQEngineEvaluate(t *testing.T) {
	engine := NewGoJQEngine()
	ctx := context.Background()

	tests := []struct {
		name       string
		expression string
		data       map[string]any
		want       any
	}{
		{
			name:       "field extraction from node output",
			expression: ".nodes.search.results[0].title",
			data: map[string]any{
				"nodes": map[string]any{
					"search": map[string]any{
						"results": []any{map[string]any{"title": "first hit"}},
					},
				},
			},
			want: "first hit",
		},
		{
			name:       "reshape task input",
			expression: `{query: .task, limit: 3}`,
			data:       map[string]any{"task": "find docs"},
			want:       map[string]any{"query": "find docs", "limit": 3},
		},
		{
			name:       "missing field yields nil",
			expression: ".nodes.absent",
			data:       map[string]any{"nodes": map[string]any{}},
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, tt.expression, tt.data)
			require.NoError(t, err)
			assert.EqualValues(t, tt.want, got)
		})
	}
}

func TestGoJQEngineMultipleOutputs(t *testing.T) {
	engine := NewGoJQEngine()

	got, err := engine.Evaluate(context.Background(), ".items[]",
		map[string]any{"items": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestGoJQEngineEvaluateAll(t *testing.T) {
	engine := NewGoJQEngine()

	got, err := engine.EvaluateAll(context.Background(), ".items[]",
		map[string]any{"items": []any{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got)

	got, err = engine.EvaluateAll(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGoJQEngineIntNormalization(t *testing.T) {
	engine := NewGoJQEngine()

	// Go ints are widened to float64 before evaluation.
	got, err := engine.Evaluate(context.Background(), ".count * 2",
		map[string]any{"count": 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
}

func TestGoJQEngineParseError(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), ".[unclosed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestGoJQEngineEmptyExpression(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestGoJQEngineEnvBlocked(t *testing.T) {
	engine := NewGoJQEngine()

	// The sandbox hides process environment variables.
	got, err := engine.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, got)
}
