package tools

import (
	"context"
)

// Tool is an invokable capability exposed to agents and tool nodes.
type Tool interface {
	ID() string
	Description() string
	// Parameters returns the JSON Schema of the tool's arguments, shown to
	// the model when the tool is offered in a completion call.
	Parameters() map[string]any
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Func is the signature of a host-registered function tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Info is a summary of a registered tool for listing.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}
