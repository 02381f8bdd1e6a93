package provider

import (
	"context"
	"sync"

	"github.com/rendis/agentgraph/pkg/schema"
)

// ScriptedProvider replays a fixed sequence of responses, one per Complete
// call, in order. It records every request it receives. Used by tests and
// dry runs in place of a live model.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []*Response
	next      int
	requests  []*Request
}

// NewScripted creates a provider that replays the given responses in order.
func NewScripted(responses ...*Response) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Text is a convenience constructor for a plain text response.
func Text(content string) *Response {
	return &Response{Content: content}
}

// Call is a convenience constructor for a single-tool-call response.
func Call(callID, name, arguments string) *Response {
	return &Response{ToolCalls: []schema.ToolCall{{ID: callID, Name: name, Arguments: arguments}}}
}

// Name returns the provider identifier.
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Complete pops the next scripted response. Running past the script is a
// provider error, surfacing scenario/script mismatches in tests.
func (p *ScriptedProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCancelled, "scripted call aborted: %s", err.Error()).WithCause(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.next >= len(p.responses) {
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"script exhausted after %d responses", len(p.responses))
	}
	resp := p.responses[p.next]
	p.next++
	return resp, nil
}

// Requests returns a copy of all requests received so far.
func (p *ScriptedProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many Complete calls were made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

var _ Provider = (*ScriptedProvider)(nil)

// FuncProvider adapts a function into a Provider, for tests needing
// request-dependent behavior.
type FuncProvider struct {
	ProviderName string
	Fn           func(ctx context.Context, req *Request) (*Response, error)
}

func (p *FuncProvider) Name() string {
	if p.ProviderName == "" {
		return "func"
	}
	return p.ProviderName
}

func (p *FuncProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	return p.Fn(ctx, req)
}

var _ Provider = (*FuncProvider)(nil)
