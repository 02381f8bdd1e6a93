package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/internal/retry"
	"github.com/rendis/agentgraph/internal/tools"
	"github.com/rendis/agentgraph/internal/transcript"
	"github.com/rendis/agentgraph/pkg/schema"
)

const (
	// DefaultMaxToolDepth bounds tool-call rounds within one agent turn.
	DefaultMaxToolDepth = 4

	// DefaultCallTimeout applies when no timeout is configured for a call.
	DefaultCallTimeout = 60 * time.Second
)

// Agent is the runtime form of an agent definition: bound to a provider and
// tool dispatcher, with its effective default call settings pre-merged.
type Agent struct {
	ID           string
	Name         string
	Description  string
	SystemPrompt string
	Tools        []string
	Settings     *schema.CallSettings

	Provider   provider.Provider
	Dispatcher *tools.Dispatcher
	Logger     *slog.Logger
}

// NewAgent builds a runtime agent from its definition. Engine-level defaults
// layer under the definition's own defaults.
func NewAgent(def *schema.AgentDefinition, engineDefaults *schema.CallSettings, p provider.Provider, d *tools.Dispatcher, logger *slog.Logger) *Agent {
	settings := schema.MergeCallSettings(engineDefaults, &schema.CallSettings{Model: def.Model})
	settings = schema.MergeCallSettings(settings, def.Defaults)
	name := def.Name
	if name == "" {
		name = def.ID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		ID:           def.ID,
		Name:         name,
		Description:  def.Description,
		SystemPrompt: def.SystemPrompt,
		Tools:        def.Tools,
		Settings:     settings,
		Provider:     p,
		Dispatcher:   d,
		Logger:       logger,
	}
}

// DisplayName returns the agent's name, falling back to its id.
func (a *Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// ExecOptions tune one agent execution.
type ExecOptions struct {
	// Settings layer on top of the agent's defaults for this call.
	Settings *schema.CallSettings
	// ExtraTools are exposed to the model in addition to the agent's own.
	ExtraTools []provider.ToolSchema
	// Intercept handles control tool calls (handoff, complete) before
	// dispatch. Returning a non-nil action ends the turn.
	Intercept func(call schema.ToolCall) *AgentAction
	// MaxToolDepth bounds tool rounds; zero means DefaultMaxToolDepth.
	MaxToolDepth int
}

// Turn is the outcome of one agent execution.
type Turn struct {
	Action  AgentAction
	Content string // raw assistant text of the final reply, "" for tool actions
}

// Execute runs one agent turn: a model call with the agent's tools, looping
// through tool invocations until the model replies in text or a control tool
// ends the turn. Intermediate tool-call and tool-result turns are appended to
// the transcript; the final assistant reply is not, so the caller decides how
// to attribute it.
func (a *Agent) Execute(ctx context.Context, tr *transcript.Transcript, opts *ExecOptions) (*Turn, error) {
	if opts == nil {
		opts = &ExecOptions{}
	}
	settings := schema.MergeCallSettings(a.Settings, opts.Settings)

	maxDepth := opts.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxToolDepth
	}

	toolSchemas, err := a.toolSchemas(opts.ExtraTools)
	if err != nil {
		return nil, err
	}

	log := logging.LogWith(ctx, a.Logger)

	for depth := 0; ; depth++ {
		req := &provider.Request{
			Model:       settings.Model,
			Messages:    a.messages(tr),
			Temperature: settings.Temperature,
			TopP:        settings.TopP,
			MaxTokens:   settings.MaxTokens,
		}
		// On the last permitted round the model must answer in text.
		if depth < maxDepth {
			req.Tools = toolSchemas
		}

		resp, err := a.complete(ctx, settings, req)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 || depth >= maxDepth {
			return &Turn{Action: ParseAction(resp.Content), Content: resp.Content}, nil
		}

		tr.AppendAssistant(a.ID, resp.Content, resp.ToolCalls)

		for _, call := range resp.ToolCalls {
			if opts.Intercept != nil {
				if action := opts.Intercept(call); action != nil {
					tr.AppendTool(call.ID, call.Name, "acknowledged")
					action.Source = SourceTool
					return &Turn{Action: *action}, nil
				}
			}

			result, err := a.Dispatcher.Dispatch(ctx, call)
			if err != nil {
				// Surface the failure to the model so it can recover.
				log.WarnContext(ctx, "tool call failed",
					slog.String("agent", a.ID),
					slog.String("tool", call.Name),
					slog.String("error", err.Error()))
				result = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			tr.AppendTool(call.ID, call.Name, result)
		}
	}
}

// complete performs one provider call under the effective timeout and retry
// policy.
func (a *Agent) complete(ctx context.Context, settings *schema.CallSettings, req *provider.Request) (*provider.Response, error) {
	timeout := DefaultCallTimeout
	if settings.Timeout > 0 {
		timeout = settings.Timeout.Std()
	}

	policy := retry.DefaultPolicy
	if settings.Retry != nil {
		policy = settings.Retry
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (*provider.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return a.Provider.Complete(callCtx, req)
	})
}

// messages builds the provider message list: the system prompt, when set,
// precedes the shared transcript.
func (a *Agent) messages(tr *transcript.Transcript) []schema.Turn {
	turns := tr.Snapshot()
	if a.SystemPrompt == "" {
		return turns
	}
	out := make([]schema.Turn, 0, len(turns)+1)
	out = append(out, schema.Turn{Role: schema.RoleSystem, Content: a.SystemPrompt})
	return append(out, turns...)
}

func (a *Agent) toolSchemas(extra []provider.ToolSchema) ([]provider.ToolSchema, error) {
	var out []provider.ToolSchema
	if len(a.Tools) > 0 && a.Dispatcher != nil {
		schemas, err := a.Dispatcher.Schemas(a.Tools)
		if err != nil {
			return nil, err
		}
		for _, s := range schemas {
			out = append(out, provider.ToolSchema{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			})
		}
	}
	return append(out, extra...), nil
}
