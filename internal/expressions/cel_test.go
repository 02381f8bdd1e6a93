package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELEngineName(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", engine.Name())
}

func TestCELEngineEvaluate(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name       string
		expression string
		data       map[string]any
		want       any
	}{
		{
			name:       "node output comparison",
			expression: `nodes["classify"]["label"] == "technical"`,
			data: map[string]any{
				"nodes": map[string]any{
					"classify": map[string]any{"label": "technical"},
				},
			},
			want: true,
		},
		{
			name:       "iteration defaults to zero",
			expression: "iteration < 3",
			data:       map[string]any{},
			want:       true,
		},
		{
			name:       "value string matching",
			expression: `value.contains("escalate")`,
			data:       map[string]any{"value": "please escalate this"},
			want:       true,
		},
		{
			name:       "flow metadata access",
			expression: `flow["flow_id"] == "triage"`,
			data:       map[string]any{"flow": map[string]any{"flow_id": "triage"}},
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, tt.expression, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELEngineEmptyExpression(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestCELEngineCompileError(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), "nodes ==", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestCELEngineUnknownVariable(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	// Variables outside the declared environment are compile errors.
	_, err = engine.Evaluate(context.Background(), "undeclared == 1", nil)
	require.Error(t, err)
}

func TestCELEngineCaching(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Evaluate(ctx, "iteration + 1", map[string]any{"iteration": 1})
	require.NoError(t, err)
	_, err = engine.Evaluate(ctx, "iteration + 1", map[string]any{"iteration": 2})
	require.NoError(t, err)

	engine.mu.RLock()
	assert.Len(t, engine.cache, 1)
	engine.mu.RUnlock()
}
