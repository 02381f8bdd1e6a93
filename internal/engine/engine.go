package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/orchestration"
	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/internal/record"
	"github.com/rendis/agentgraph/internal/tools"
	"github.com/rendis/agentgraph/internal/validation"
	"github.com/rendis/agentgraph/pkg/schema"
)

// DefaultMaxWorkers bounds how many ready nodes execute concurrently.
const DefaultMaxWorkers = 4

// PromptLoader resolves a prompt file reference to its text.
type PromptLoader func(ctx context.Context, ref string) (string, error)

// Options configure an Engine. Zero values select the documented defaults.
type Options struct {
	// Provider performs model completions for every agent in the document.
	Provider provider.Provider

	// Funcs backs function-kind tool definitions, keyed by function name.
	Funcs map[string]tools.Func

	// Strategy is the orchestration default when neither node nor flow
	// declares one. Empty selects sequential.
	Strategy string

	// Defaults are engine-wide call settings, layered under agent defaults
	// and node parameters.
	Defaults *schema.CallSettings

	// MaxToolDepth bounds tool-call rounds within one agent turn.
	MaxToolDepth int

	// MaxWorkers bounds concurrent node execution; zero selects
	// DefaultMaxWorkers.
	MaxWorkers int

	// ExpressionEngine selects the condition engine ("expr" or "cel") when
	// the document's settings block is silent.
	ExpressionEngine string

	// Recorder persists the run-event audit trail; nil selects in-memory.
	Recorder record.Recorder

	// PromptLoader resolves file-backed prompts; nil reads the filesystem.
	PromptLoader PromptLoader

	// RequestUserInput is consulted by the group-chat strategy when the
	// manager schedules a user turn; nil skips user turns.
	RequestUserInput func(ctx context.Context, prompt string) (string, error)

	Logger *slog.Logger
}

// Engine executes flow documents. Safe for concurrent Run calls; each run
// owns its own state.
type Engine struct {
	opts      Options
	validator *validation.DocumentValidator
	jq        *expressions.GoJQEngine
	interp    *expressions.Interpolator
	logger    *slog.Logger
}

// New creates an Engine, pre-compiling the document schema.
func New(opts Options) (*Engine, error) {
	validator, err := validation.NewDocumentValidator()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = record.NewMemoryRecorder()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.PromptLoader == nil {
		opts.PromptLoader = func(_ context.Context, ref string) (string, error) {
			b, err := os.ReadFile(ref)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
	}

	return &Engine{
		opts:      opts,
		validator: validator,
		jq:        expressions.NewGoJQEngine(),
		interp:    expressions.NewInterpolator(),
		logger:    logger,
	}, nil
}

// Validate runs the full validation pipeline without executing anything.
func (e *Engine) Validate(doc *schema.FlowDocument) *schema.ValidationResult {
	return e.validator.Validate(doc)
}

// Run validates the document, then executes the named flow against the task
// input. It returns the final output, the transcript, tool results, and the
// run-event trail, or a FlowError describing the first fatal failure.
func (e *Engine) Run(ctx context.Context, doc *schema.FlowDocument, flowID string, task any) (*schema.Result, error) {
	if err := e.validator.ValidateDocument(doc); err != nil {
		return nil, err
	}

	flow := doc.Flow(flowID)
	if flow == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found in document", flowID)
	}

	rt, err := e.newRuntime(ctx, doc)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithFlowID(ctx, flow.ID)

	startedAt := time.Now().UTC()
	ec := newExecutionContext(runID, flow, task)

	rt.emit(ctx, ec, schema.EventRunStarted, "", "", map[string]any{"task": task})

	output, runErr := rt.executeFlow(ctx, ec)
	if runErr != nil {
		rt.emit(ctx, ec, schema.EventRunFailed, "", "", map[string]any{"error": runErr.Error()})
		return nil, runErr
	}
	rt.emit(ctx, ec, schema.EventRunCompleted, "", "", map[string]any{"output": output})

	events, _ := e.opts.Recorder.Events(ctx, runID)

	return &schema.Result{
		RunID:       runID,
		FlowID:      flow.ID,
		FinalOutput: output,
		Transcript:  ec.Transcript.Snapshot(),
		ToolResults: ec.ToolResults(),
		Events:      events,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// runtime holds the per-document machinery shared by a run and its subflows.
type runtime struct {
	engine     *Engine
	doc        *schema.FlowDocument
	dispatcher *tools.Dispatcher
	agents     map[string]*orchestration.Agent
	conditions expressions.Engine
	logger     *slog.Logger
}

func (e *Engine) newRuntime(ctx context.Context, doc *schema.FlowDocument) (*runtime, error) {
	registry, err := tools.BuildRegistry(doc, e.opts.Funcs, e.jq)
	if err != nil {
		return nil, err
	}
	dispatcher := tools.NewDispatcher(registry, e.logger)

	conditions, err := e.conditionEngine(doc)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		engine:     e,
		doc:        doc,
		dispatcher: dispatcher,
		agents:     make(map[string]*orchestration.Agent, len(doc.Agents)),
		conditions: conditions,
		logger:     e.logger,
	}

	for i := range doc.Agents {
		def := &doc.Agents[i]
		agent := orchestration.NewAgent(def, e.opts.Defaults, e.opts.Provider, dispatcher, e.logger)
		// A system prompt may name a prompt table entry or a file.
		prompt, err := rt.promptText(ctx, def.SystemPrompt)
		if err != nil {
			return nil, err
		}
		agent.SystemPrompt = prompt
		rt.agents[def.ID] = agent
	}

	return rt, nil
}

// conditionEngine selects the guard/decision engine: the document's settings
// block wins, then the engine option, then expr.
func (e *Engine) conditionEngine(doc *schema.FlowDocument) (expressions.Engine, error) {
	name := e.opts.ExpressionEngine
	if doc.Settings != nil && doc.Settings.Expressions != "" {
		name = doc.Settings.Expressions
	}
	switch name {
	case "", "expr":
		return expressions.NewExprEngine(), nil
	case "cel":
		return expressions.NewCELEngine()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name)
	}
}

// emit records a run event. Recording failures are logged, not fatal: the
// audit trail is best-effort and must never abort a run mid-flight.
func (rt *runtime) emit(ctx context.Context, ec *ExecutionContext, eventType, nodeID, agentID string, payload map[string]any) {
	event := &schema.RunEvent{
		RunID:   ec.RunID,
		FlowID:  ec.Flow.ID,
		NodeID:  nodeID,
		AgentID: agentID,
		Type:    eventType,
		Payload: payload,
	}
	if err := rt.engine.opts.Recorder.Append(ctx, event); err != nil {
		logging.LogWith(ctx, rt.logger).WarnContext(ctx, "event append failed",
			slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
