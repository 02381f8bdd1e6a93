package provider

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rendis/agentgraph/pkg/schema"
)

// OpenAIProvider adapts any OpenAI-compatible chat completion API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAI creates a provider against api.openai.com.
func NewOpenAI(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// NewOpenAICompatible creates a provider against a custom base URL, for
// OpenAI-compatible servers.
func NewOpenAICompatible(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete performs one chat completion call.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toChatMessages(req.Messages),
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"model call aborted: %s", ctx.Err().Error()).WithCause(ctx.Err())
		}
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"model call failed: %s", err.Error()).WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeProvider, "model returned no choices")
	}

	choice := resp.Choices[0].Message
	out := &Response{Content: choice.Content}
	for _, call := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

// toChatMessages converts transcript turns to the wire message format.
func toChatMessages(turns []schema.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		msg := openai.ChatCompletionMessage{Content: turn.Content}
		switch turn.Role {
		case schema.RoleSystem:
			msg.Role = openai.ChatMessageRoleSystem
		case schema.RoleUser:
			msg.Role = openai.ChatMessageRoleUser
		case schema.RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, call := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
		case schema.RoleTool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = turn.ToolCallID
		default:
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

var _ Provider = (*OpenAIProvider)(nil)
