package engine

import (
	"context"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

// jqArgPrefix marks a tool argument value as a jq program evaluated against
// the run scope instead of a literal.
const jqArgPrefix = "jq:"

// executeTool invokes the referenced tool with the node's declared arguments:
// jq-prefixed values are extracted from the context, everything else is
// interpolated literally. The result binds to the node's output and lands in
// the run's tool-result summary.
func (fr *flowRun) executeTool(ctx context.Context, node *schema.FlowNode) (*firing, error) {
	args, err := fr.toolArguments(ctx, node)
	if err != nil {
		return nil, err
	}

	out, err := fr.rt.dispatcher.Invoke(ctx, node.Tool, args)
	if err != nil {
		return nil, err
	}

	fr.ec.RecordToolResult(node.ID, out)
	fr.rt.emit(ctx, fr.ec, schema.EventToolInvoked, node.ID, "", map[string]any{
		"tool": node.Tool,
		"args": args,
	})

	return fr.fireAll(node, out), nil
}

func (fr *flowRun) toolArguments(ctx context.Context, node *schema.FlowNode) (map[string]any, error) {
	scope := fr.buildScope(node.ID)
	scope.Value = fr.primaryInput(node.ID)

	args := make(map[string]any, len(node.Arguments))
	for key, raw := range node.Arguments {
		if expr, ok := jqArgument(raw); ok {
			value, err := fr.rt.engine.jq.Evaluate(ctx, expr, scope.Env())
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeTool,
					"tool %q: argument %q: %s", node.Tool, key, err.Error()).WithCause(err)
			}
			args[key] = value
			continue
		}

		value, err := fr.rt.engine.interp.ResolveValue(raw, scope)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTool,
				"tool %q: argument %q: %s", node.Tool, key, err.Error()).WithCause(err)
		}
		args[key] = value
	}
	return args, nil
}

func jqArgument(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, jqArgPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, jqArgPrefix)), true
}
