package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rendis/agentgraph/pkg/schema"
)

// FunctionTool wraps a host-registered Go function. The document declares the
// tool with kind "function" and names the function it binds to; the host
// supplies the implementation before the run starts.
type FunctionTool struct {
	id          string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunctionTool creates a function tool. spec, when non-empty, is parsed as
// the JSON Schema of the arguments.
func NewFunctionTool(def *schema.ToolDefinition, fn Func) (*FunctionTool, error) {
	if fn == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: no function bound for %q", def.ID, def.Function)
	}

	var params map[string]any
	if def.Spec != "" {
		if err := json.Unmarshal([]byte(def.Spec), &params); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"tool %q: invalid parameter schema: %s", def.ID, err.Error()).WithCause(err)
		}
	}

	return &FunctionTool{
		id:          def.ID,
		description: def.Description,
		parameters:  params,
		fn:          fn,
	}, nil
}

func (t *FunctionTool) ID() string          { return t.id }
func (t *FunctionTool) Description() string { return t.description }

func (t *FunctionTool) Parameters() map[string]any {
	if t.parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.parameters
}

func (t *FunctionTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	out, err := t.fn(ctx, args)
	if err != nil {
		var flowErr *schema.FlowError
		if errors.As(err, &flowErr) {
			return nil, flowErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q failed: %s", t.id, err.Error()).WithCause(err)
	}
	return out, nil
}

var _ Tool = (*FunctionTool)(nil)
