package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/internal/record"
	"github.com/rendis/agentgraph/internal/tools"
	"github.com/rendis/agentgraph/pkg/schema"
)

func triageDoc() *schema.FlowDocument {
	return &schema.FlowDocument{
		Agents: []schema.AgentDefinition{
			{ID: "triage", Model: "gpt-4o-mini",
				SystemPrompt: "Classify the request. Reply with one word: billing, tech, or general."},
			{ID: "billing", Model: "gpt-4o", SystemPrompt: "You handle billing questions."},
			{ID: "tech", Model: "gpt-4o", SystemPrompt: "You handle technical questions."},
		},
		Flows: []schema.FlowDefinition{{
			ID:    "support",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "classify", Kind: schema.NodeKindAgent, Agent: "triage"},
				{ID: "route", Kind: schema.NodeKindDecision, Outputs: []schema.NodeOutput{
					{Label: "billing", Condition: `value == "billing"`},
					{Label: "tech", Condition: `value == "tech"`},
					{Label: "general"},
				}},
				{ID: "handle-billing", Kind: schema.NodeKindAgent, Agent: "billing"},
				{ID: "handle-tech", Kind: schema.NodeKindAgent, Agent: "tech"},
				{ID: "handle-general", Kind: schema.NodeKindAgent, Agent: "triage"},
				{ID: "collect", Kind: schema.NodeKindMerge},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "classify"},
				{From: "classify", To: "route"},
				{From: "route/billing", To: "handle-billing"},
				{From: "route/tech", To: "handle-tech"},
				{From: "route/general", To: "handle-general"},
				{From: "handle-billing", To: "collect"},
				{From: "handle-tech", To: "collect"},
				{From: "handle-general", To: "collect"},
				{From: "collect", To: "end"},
			},
		}},
	}
}

func TestTriageRoutesByDecision(t *testing.T) {
	p := provider.NewScripted(
		provider.Text("billing"),
		provider.Text("Your invoice was sent to the address on file."),
	)

	e := newTestEngine(t, p, nil)
	result, err := e.Run(context.Background(), triageDoc(), "support", "Why was I charged twice?")
	require.NoError(t, err)

	// Exactly two model calls: the classifier and the selected handler.
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, []any{"Your invoice was sent to the address on file."}, result.FinalOutput)

	// The unselected handlers never speak.
	for _, turn := range result.Transcript {
		if turn.Role == schema.RoleAssistant {
			assert.Contains(t, []string{"triage", "billing"}, turn.AgentID)
		}
	}

	var decided bool
	for _, ev := range result.Events {
		if ev.Type == schema.EventDecisionMade {
			decided = true
			assert.Equal(t, "route", ev.NodeID)
			assert.Equal(t, "billing", ev.Payload["label"])
		}
	}
	assert.True(t, decided)
}

func TestTriageFallsBackToCatchAll(t *testing.T) {
	p := provider.NewScripted(
		provider.Text("I am not sure what this is about."),
		provider.Text("Could you tell me a bit more?"),
	)

	e := newTestEngine(t, p, nil)
	result, err := e.Run(context.Background(), triageDoc(), "support", "hello?")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, []any{"Could you tell me a bit more?"}, result.FinalOutput)
}

func TestLLMDecisionRecordsClassificationTurn(t *testing.T) {
	p := provider.NewScripted(
		provider.Text(`{"label": "tech"}`),
		provider.Text("Restart the router, then retry."),
	)

	doc := triageDoc()
	flow := doc.Flow("support")
	route := flow.Node("route")
	route.Decision = "llm"
	route.Agent = "triage"
	route.Outputs = []schema.NodeOutput{
		{Label: "billing"}, {Label: "tech"}, {Label: "general"},
	}

	e := newTestEngine(t, p, nil)
	result, err := e.Run(context.Background(), doc, "support", "wifi keeps dropping")
	require.NoError(t, err)

	assert.Equal(t, []any{"Restart the router, then retry."}, result.FinalOutput)

	// The classification reply is part of the audit transcript.
	var sawClassification bool
	for _, turn := range result.Transcript {
		if turn.Role == schema.RoleAssistant && turn.Content == `{"label": "tech"}` {
			sawClassification = true
		}
	}
	assert.True(t, sawClassification)

	// The classifier request carries the declared categories.
	reqs := p.Requests()
	require.Len(t, reqs, 2)
	require.NotEmpty(t, reqs[0].Messages)
	assert.Equal(t, schema.RoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[0].Content, "billing, tech, general")
}

func TestLLMDecisionUnmatchedLabelFails(t *testing.T) {
	p := provider.NewScripted(provider.Text(`{"label": "weather"}`))

	doc := triageDoc()
	route := doc.Flow("support").Node("route")
	route.Decision = "llm"
	route.Agent = "triage"
	route.Outputs = []schema.NodeOutput{
		{Label: "billing"}, {Label: "tech"}, {Label: "general"},
	}

	e := newTestEngine(t, p, nil)
	_, err := e.Run(context.Background(), doc, "support", "hm")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDecision, flowErrCode(t, err))
}

func TestNodePromptInterpolation(t *testing.T) {
	p := provider.NewScripted(provider.Text("A fine haiku about MARS."))

	doc := &schema.FlowDocument{
		Agents: []schema.AgentDefinition{{ID: "poet", Model: "gpt-4o"}},
		Tools:  []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "poem",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "fetch", Kind: schema.NodeKindTool, Tool: "upper",
					Arguments: map[string]any{"text": "${{task}}"}},
				{ID: "compose", Kind: schema.NodeKindAgent, Agent: "poet",
					Prompt: "Write a haiku about ${{nodes.fetch}}."},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "fetch"},
				{From: "fetch", To: "compose"},
				{From: "compose", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, p, map[string]tools.Func{"upper": upperFunc})
	result, err := e.Run(context.Background(), doc, "poem", "mars")
	require.NoError(t, err)

	assert.Equal(t, "A fine haiku about MARS.", result.FinalOutput)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	var userTurn string
	for _, msg := range reqs[0].Messages {
		if msg.Role == schema.RoleUser {
			userTurn = msg.Content
		}
	}
	assert.Equal(t, "Write a haiku about MARS.", userTurn)
}

func TestAgentSystemPromptFromPromptTable(t *testing.T) {
	p := provider.NewScripted(provider.Text("hello"))

	doc := &schema.FlowDocument{
		Prompts: []schema.PromptDefinition{
			{ID: "persona", Text: "You are terse. One sentence only."},
		},
		Agents: []schema.AgentDefinition{
			{ID: "bot", Model: "gpt-4o", SystemPrompt: "persona"},
		},
		Flows: []schema.FlowDefinition{{
			ID:    "chat",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "talk", Kind: schema.NodeKindAgent, Agent: "bot"},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "talk"},
				{From: "talk", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, p, nil)
	_, err := e.Run(context.Background(), doc, "chat", "hi")
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	require.NotEmpty(t, reqs[0].Messages)
	assert.Equal(t, schema.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "You are terse. One sentence only.", reqs[0].Messages[0].Content)
}

func TestRunUnknownFlow(t *testing.T) {
	e := newTestEngine(t, provider.NewScripted(), nil)
	_, err := e.Run(context.Background(), triageDoc(), "missing", "task")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, flowErrCode(t, err))
}

func TestRunRejectsInvalidDocument(t *testing.T) {
	doc := triageDoc()
	doc.Flows[0].Nodes[1].Agent = "nobody"

	e := newTestEngine(t, provider.NewScripted(), nil)
	_, err := e.Run(context.Background(), doc, "support", "task")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, flowErrCode(t, err))
}

func TestValidateReportsWithoutExecuting(t *testing.T) {
	doc := triageDoc()
	doc.Flows[0].Nodes[1].Agent = "nobody"

	e := newTestEngine(t, provider.NewScripted(), nil)
	result := e.Validate(doc)
	require.NotNil(t, result)
	assert.False(t, result.Valid())
}

func TestScriptExhaustionSurfacesProviderError(t *testing.T) {
	p := provider.NewScripted(provider.Text("billing")) // no handler response
	e := newTestEngine(t, p, nil)

	_, err := e.Run(context.Background(), triageDoc(), "support", "charge question")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeProvider, flowErrCode(t, err))
}

func TestRunPersistsEventsToRecorder(t *testing.T) {
	rec := record.NewMemoryRecorder()
	e, err := New(Options{Provider: provider.NewScripted(), Funcs: map[string]tools.Func{"upper": upperFunc}, Recorder: rec})
	require.NoError(t, err)

	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "shout",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "loud", Kind: schema.NodeKindTool, Tool: "upper",
					Arguments: map[string]any{"text": "${{task}}"}},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "loud"},
				{From: "loud", To: "end"},
			},
		}},
	}

	result, err := e.Run(context.Background(), doc, "shout", "hey")
	require.NoError(t, err)

	stored, err := rec.Events(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Events, stored)
}

// typeCapture wraps a recorder and keeps the event types it saw, so failure
// paths can be asserted without a run id.
type typeCapture struct {
	record.Recorder
	types []string
}

func (c *typeCapture) Append(ctx context.Context, ev *schema.RunEvent) error {
	c.types = append(c.types, ev.Type)
	return c.Recorder.Append(ctx, ev)
}

func TestRunFailureEmitsRunFailed(t *testing.T) {
	rec := &typeCapture{Recorder: record.NewMemoryRecorder()}
	e, err := New(Options{
		Provider: provider.NewScripted(), // empty script, classify will fail
		Recorder: rec,
		Defaults: &schema.CallSettings{Retry: &schema.RetryPolicy{Max: 0}},
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), triageDoc(), "support", "task")
	require.Error(t, err)

	require.NotEmpty(t, rec.types)
	assert.Equal(t, schema.EventRunStarted, rec.types[0])
	assert.Equal(t, schema.EventRunFailed, rec.types[len(rec.types)-1])
	assert.Contains(t, rec.types, schema.EventNodeFailed)
}
