package provider

import (
	"context"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Request is one model completion call: the conversation so far, the tools
// the agent may call, and the effective call settings.
type Request struct {
	Model       string
	Messages    []schema.Turn
	Tools       []ToolSchema
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// ToolSchema describes a tool exposed to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema of the arguments
}

// Response is the model's reply: text, tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []schema.ToolCall
}

// Provider performs model completions. Implementations must be safe for
// concurrent use; the engine shares one provider across parallel branches.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}
