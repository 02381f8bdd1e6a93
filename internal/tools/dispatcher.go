package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kaptinlin/jsonrepair"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/retry"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Dispatcher resolves and executes tool calls against a Registry, applying
// per-tool retry policies. One dispatcher is shared by all agents of a run.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// BuildRegistry constructs a Registry from the document's tool definitions.
// Function-kind tools bind to host-supplied implementations by function name
// (falling back to the tool ID).
func BuildRegistry(doc *schema.FlowDocument, funcs map[string]Func, jq *expressions.GoJQEngine) (*Registry, error) {
	registry := NewRegistry()

	for i := range doc.Tools {
		def := &doc.Tools[i]

		var (
			tool Tool
			err  error
		)
		switch def.Kind {
		case "function":
			name := def.Function
			if name == "" {
				name = def.ID
			}
			tool, err = NewFunctionTool(def, funcs[name])
		case "http":
			tool, err = NewHTTPTool(def)
		case "jq":
			tool, err = NewJQTool(def, jq)
		default:
			err = schema.NewErrorf(schema.ErrCodeValidation,
				"tool %q: unknown kind %q", def.ID, def.Kind)
		}
		if err != nil {
			return nil, err
		}

		if err := registry.Register(tool); err != nil {
			return nil, err
		}
		if def.Retry != nil {
			registry.SetRetryPolicy(def.ID, def.Retry)
		}
	}

	return registry, nil
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Schemas returns the provider-facing schemas for the given tool IDs.
// Unknown IDs yield a NOT_FOUND error so misconfigured rosters fail loudly.
func (d *Dispatcher) Schemas(ids []string) ([]Schema, error) {
	schemas := make([]Schema, 0, len(ids))
	for _, id := range ids {
		tool, err := d.registry.Get(id)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, Schema{
			Name:        tool.ID(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return schemas, nil
}

// Schema describes a tool to the model.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Dispatch executes one model-requested tool call and returns the result
// serialized for the transcript. Argument JSON is repaired before parsing;
// models routinely emit close-but-broken JSON.
func (d *Dispatcher) Dispatch(ctx context.Context, call schema.ToolCall) (string, error) {
	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %q: unparseable arguments: %s", call.Name, err.Error()).WithCause(err)
	}
	out, err := d.Invoke(ctx, call.Name, args)
	if err != nil {
		return "", err
	}
	return EncodeResult(out), nil
}

// Invoke executes a tool by ID with parsed arguments, applying the tool's
// retry policy when one is configured.
func (d *Dispatcher) Invoke(ctx context.Context, id string, args map[string]any) (any, error) {
	tool, err := d.registry.Get(id)
	if err != nil {
		return nil, err
	}

	log := logging.LogWith(ctx, d.logger)
	log.DebugContext(ctx, "invoking tool", slog.String("tool", id))

	policy := d.registry.RetryPolicy(id)
	out, err := retry.Do(ctx, policy, func(ctx context.Context) (any, error) {
		return tool.Invoke(ctx, args)
	})
	if err != nil {
		log.WarnContext(ctx, "tool failed", slog.String("tool", id), slog.String("error", err.Error()))
		return nil, err
	}
	return out, nil
}

// ParseArguments parses a tool-call argument string, repairing malformed
// JSON first. Empty input yields an empty argument map.
func ParseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// EncodeResult serializes a tool result for a transcript tool turn.
func EncodeResult(out any) string {
	switch v := out.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}
