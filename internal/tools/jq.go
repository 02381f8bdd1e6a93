package tools

import (
	"context"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/pkg/schema"
)

// JQTool evaluates a jq program over its arguments. The definition's Spec
// field holds the program; arguments form the input object, under "input"
// when a single value is passed.
type JQTool struct {
	id          string
	description string
	program     string
	engine      *expressions.GoJQEngine
}

// NewJQTool creates a jq tool from its definition.
func NewJQTool(def *schema.ToolDefinition, engine *expressions.GoJQEngine) (*JQTool, error) {
	if def.Spec == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "tool %q: jq tool requires a program", def.ID)
	}
	if engine == nil {
		engine = expressions.NewGoJQEngine()
	}
	return &JQTool{
		id:          def.ID,
		description: def.Description,
		program:     def.Spec,
		engine:      engine,
	}, nil
}

func (t *JQTool) ID() string          { return t.id }
func (t *JQTool) Description() string { return t.description }

func (t *JQTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{"description": "value the jq program is applied to"},
		},
	}
}

func (t *JQTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	out, err := t.engine.Evaluate(ctx, t.program, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q: jq program failed: %s", t.id, err.Error()).WithCause(err)
	}
	return out, nil
}

var _ Tool = (*JQTool)(nil)
