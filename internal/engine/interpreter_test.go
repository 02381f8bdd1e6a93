package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/internal/tools"
	"github.com/rendis/agentgraph/pkg/schema"
)

func newTestEngine(t *testing.T, p provider.Provider, funcs map[string]tools.Func) *Engine {
	t.Helper()
	// No retries: scripted failures should surface immediately.
	e, err := New(Options{
		Provider: p,
		Funcs:    funcs,
		Defaults: &schema.CallSettings{Retry: &schema.RetryPolicy{Max: 0}},
	})
	require.NoError(t, err)
	return e
}

func upperFunc(_ context.Context, args map[string]any) (any, error) {
	s, _ := args["text"].(string)
	return strings.ToUpper(s), nil
}

func functionTool(id string) schema.ToolDefinition {
	return schema.ToolDefinition{ID: id, Kind: "function", Function: id}
}

func flowErrCode(t *testing.T, err error) string {
	t.Helper()
	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr), "expected FlowError, got %v", err)
	return ferr.Code
}

func TestRunToolFlow(t *testing.T) {
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

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})
	result, err := e.Run(context.Background(), doc, "shout", "hello")
	require.NoError(t, err)

	assert.Equal(t, "HELLO", result.FinalOutput)
	assert.Equal(t, "HELLO", result.ToolResults["loud"])
	assert.Equal(t, "shout", result.FlowID)
	assert.NotEmpty(t, result.RunID)
}

func TestRunEventTrail(t *testing.T) {
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

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})
	result, err := e.Run(context.Background(), doc, "shout", "hi")
	require.NoError(t, err)

	require.NotEmpty(t, result.Events)
	assert.Equal(t, schema.EventRunStarted, result.Events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, result.Events[len(result.Events)-1].Type)
	for i, ev := range result.Events {
		assert.Equal(t, int64(i+1), ev.Sequence)
		assert.Equal(t, result.RunID, ev.RunID)
	}

	var sawToolInvoked bool
	for _, ev := range result.Events {
		if ev.Type == schema.EventToolInvoked {
			sawToolInvoked = true
			assert.Equal(t, "loud", ev.NodeID)
			assert.Equal(t, "upper", ev.Payload["tool"])
		}
	}
	assert.True(t, sawToolInvoked)
}

func TestDecisionRuleOrderSensitivity(t *testing.T) {
	buildDoc := func(outputs []schema.NodeOutput) *schema.FlowDocument {
		return &schema.FlowDocument{
			Tools: []schema.ToolDefinition{functionTool("upper")},
			Flows: []schema.FlowDefinition{{
				ID:    "route",
				Entry: "start",
				Nodes: []schema.FlowNode{
					{ID: "start", Kind: schema.NodeKindInput},
					{ID: "pick", Kind: schema.NodeKindDecision, Outputs: outputs},
					{ID: "a", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "a"}},
					{ID: "b", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "b"}},
					{ID: "end", Kind: schema.NodeKindOutput},
				},
				Edges: []schema.FlowEdge{
					{From: "start", To: "pick"},
					{From: "pick/first", To: "a"},
					{From: "pick/second", To: "b"},
					{From: "a", To: "end"},
					{From: "b", To: "end"},
				},
			}},
		}
	}

	// Both conditions hold; declaration order decides.
	outputs := []schema.NodeOutput{
		{Label: "first", Condition: `value == "go"`},
		{Label: "second", Condition: `value != ""`},
	}
	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})

	result, err := e.Run(context.Background(), buildDoc(outputs), "route", "go")
	require.NoError(t, err)
	assert.Equal(t, "A", result.FinalOutput)

	swapped := []schema.NodeOutput{outputs[1], outputs[0]}
	result, err = e.Run(context.Background(), buildDoc(swapped), "route", "go")
	require.NoError(t, err)
	assert.Equal(t, "B", result.FinalOutput)
}

func TestDecisionNoMatchFails(t *testing.T) {
	doc := &schema.FlowDocument{
		Flows: []schema.FlowDefinition{{
			ID:    "route",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "pick", Kind: schema.NodeKindDecision, Outputs: []schema.NodeOutput{
					{Label: "only", Condition: `value == "never"`},
				}},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "pick"},
				{From: "pick/only", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), nil)
	_, err := e.Run(context.Background(), doc, "route", "nope")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDecision, flowErrCode(t, err))
}

func TestMergeCollectsSatisfiedInputsInOrder(t *testing.T) {
	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "fan",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "split", Kind: schema.NodeKindParallel},
				{ID: "a", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "left"}},
				{ID: "b", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "right"}},
				{ID: "join", Kind: schema.NodeKindMerge},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "split"},
				{From: "split", To: "a"},
				{From: "split", To: "b"},
				{From: "a", To: "join"},
				{From: "b", To: "join"},
				{From: "join", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})
	result, err := e.Run(context.Background(), doc, "fan", "x")
	require.NoError(t, err)
	assert.Equal(t, []any{"LEFT", "RIGHT"}, result.FinalOutput)
}

func TestMergeFiresDespiteSkippedInput(t *testing.T) {
	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "route",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "pick", Kind: schema.NodeKindDecision, Outputs: []schema.NodeOutput{
					{Label: "a", Condition: `value == "a"`},
					{Label: "b"},
				}},
				{ID: "ta", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "took-a"}},
				{ID: "tb", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "took-b"}},
				{ID: "join", Kind: schema.NodeKindMerge},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "pick"},
				{From: "pick/a", To: "ta"},
				{From: "pick/b", To: "tb"},
				{From: "ta", To: "join"},
				{From: "tb", To: "join"},
				{From: "join", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})
	result, err := e.Run(context.Background(), doc, "route", "a")
	require.NoError(t, err)

	// The unselected branch is pruned; the join fires with what arrived.
	assert.Equal(t, []any{"TOOK-A"}, result.FinalOutput)
	assert.Nil(t, result.ToolResults["tb"])
}

func TestUnreachableNodeFailsValidation(t *testing.T) {
	ran := 0
	track := func(ctx context.Context, args map[string]any) (any, error) {
		ran++
		return upperFunc(ctx, args)
	}

	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "stranded",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "loud", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "x"}},
				{ID: "island", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "never"}},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "loud"},
				{From: "loud", To: "end"},
				{From: "island", To: "end"}, // no path from entry to island
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": track})
	_, err := e.Run(context.Background(), doc, "stranded", "x")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, flowErrCode(t, err))
	assert.Contains(t, err.Error(), "unreachable")
	assert.Zero(t, ran, "nothing may execute in an invalid document")
}

func TestJoinStarvedAfterLoopRearmIsDeadEnd(t *testing.T) {
	// "prep" feeds the join inside the loop body exactly once; the rearm for
	// iteration two resets that edge to pending and prep never refires, so the
	// join blocks and the run drains without reaching the output.
	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "stuck",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "prep", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "once"}},
				{ID: "again", Kind: schema.NodeKindLoop, MaxIterations: 2,
					Outputs: []schema.NodeOutput{{Label: "body"}, {Label: "exit"}}},
				{ID: "join", Kind: schema.NodeKindMerge},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "again"},
				{From: "start", To: "prep"},
				{From: "again/body", To: "join"},
				{From: "prep", To: "join"},
				{From: "join", To: "again"},
				{From: "again/exit", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})
	_, err := e.Run(context.Background(), doc, "stuck", "x")
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeDeadEnd, ferr.Code)
	assert.Contains(t, ferr.Details["blocked"], "join")
}

func TestLoopRunsExactlyMaxIterations(t *testing.T) {
	var mu sync.Mutex
	bodyRuns := 0
	count := func(_ context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		bodyRuns++
		return bodyRuns, nil
	}

	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("count")},
		Flows: []schema.FlowDefinition{{
			ID:    "bounded",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "again", Kind: schema.NodeKindLoop, MaxIterations: 3, Condition: "false",
					Outputs: []schema.NodeOutput{{Label: "body"}, {Label: "exit"}}},
				{ID: "work", Kind: schema.NodeKindTool, Tool: "count"},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "again"},
				{From: "again/body", To: "work"},
				{From: "work", To: "again"},
				{From: "again/exit", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"count": count})
	result, err := e.Run(context.Background(), doc, "bounded", "go")
	require.NoError(t, err)

	// Hitting the bound is a normal exit, not an error.
	assert.Equal(t, 3, bodyRuns)
	assert.Equal(t, 3, result.FinalOutput)
}

func TestLoopBreakCondition(t *testing.T) {
	var mu sync.Mutex
	bodyRuns := 0
	count := func(_ context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		bodyRuns++
		return bodyRuns, nil
	}

	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("count")},
		Flows: []schema.FlowDefinition{{
			ID:    "until",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "again", Kind: schema.NodeKindLoop, MaxIterations: 10, Condition: "iteration >= 2",
					Outputs: []schema.NodeOutput{{Label: "body"}, {Label: "exit"}}},
				{ID: "work", Kind: schema.NodeKindTool, Tool: "count"},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "again"},
				{From: "again/body", To: "work"},
				{From: "work", To: "again"},
				{From: "again/exit", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"count": count})
	_, err := e.Run(context.Background(), doc, "until", "go")
	require.NoError(t, err)
	assert.Equal(t, 2, bodyRuns)
}

func TestSubflowRecursionRejectedBeforeAnyCall(t *testing.T) {
	p := provider.NewScripted()
	doc := &schema.FlowDocument{
		Agents: []schema.AgentDefinition{{ID: "a", Model: "test-model"}},
		Flows: []schema.FlowDefinition{{
			ID:    "self",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "talk", Kind: schema.NodeKindAgent, Agent: "a"},
				{ID: "recurse", Kind: schema.NodeKindSubflow, Flow: "self"},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "recurse"},
				{From: "recurse", To: "talk"},
				{From: "talk", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, p, nil)
	_, err := e.Run(context.Background(), doc, "self", "go")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, flowErrCode(t, err))
	assert.Zero(t, p.Calls())
}

func TestSubflowBindsOutputAndLiftsTurns(t *testing.T) {
	p := provider.NewScripted(provider.Text("summarized by child"))
	doc := &schema.FlowDocument{
		Agents: []schema.AgentDefinition{{ID: "writer", Model: "test-model"}},
		Flows: []schema.FlowDefinition{
			{
				ID:    "parent",
				Entry: "start",
				Nodes: []schema.FlowNode{
					{ID: "start", Kind: schema.NodeKindInput},
					{ID: "delegate", Kind: schema.NodeKindSubflow, Flow: "child"},
					{ID: "end", Kind: schema.NodeKindOutput},
				},
				Edges: []schema.FlowEdge{
					{From: "start", To: "delegate"},
					{From: "delegate", To: "end"},
				},
			},
			{
				ID:    "child",
				Entry: "c-start",
				Nodes: []schema.FlowNode{
					{ID: "c-start", Kind: schema.NodeKindInput},
					{ID: "summarize", Kind: schema.NodeKindAgent, Agent: "writer"},
					{ID: "c-end", Kind: schema.NodeKindOutput},
				},
				Edges: []schema.FlowEdge{
					{From: "c-start", To: "summarize"},
					{From: "summarize", To: "c-end"},
				},
			},
		},
	}

	e := newTestEngine(t, p, nil)
	result, err := e.Run(context.Background(), doc, "parent", "the report")
	require.NoError(t, err)

	assert.Equal(t, "summarized by child", result.FinalOutput)

	// The child's turns lifted into the parent transcript.
	var assistant []string
	for _, turn := range result.Transcript {
		if turn.Role == schema.RoleAssistant {
			assistant = append(assistant, turn.Content)
		}
	}
	assert.Equal(t, []string{"summarized by child"}, assistant)

	var started, completed bool
	for _, ev := range result.Events {
		switch ev.Type {
		case schema.EventSubflowStarted:
			started = true
		case schema.EventSubflowCompleted:
			completed = true
		}
	}
	assert.True(t, started)
	assert.True(t, completed)
}

func TestParallelBranchFailureAbortsRun(t *testing.T) {
	boom := func(_ context.Context, _ map[string]any) (any, error) {
		return nil, schema.NewError(schema.ErrCodeTool, "backend unavailable")
	}

	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper"), functionTool("boom")},
		Flows: []schema.FlowDefinition{{
			ID:    "fan",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "split", Kind: schema.NodeKindParallel, Converge: true},
				{ID: "ok1", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "x"}},
				{ID: "bad", Kind: schema.NodeKindTool, Tool: "boom"},
				{ID: "ok2", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "y"}},
				{ID: "join", Kind: schema.NodeKindMerge},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "split"},
				{From: "split", To: "ok1"},
				{From: "split", To: "bad"},
				{From: "split", To: "ok2"},
				{From: "ok1", To: "join"},
				{From: "bad", To: "join"},
				{From: "ok2", To: "join"},
				{From: "join", To: "end"},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc, "boom": boom})
	_, err := e.Run(context.Background(), doc, "fan", "go")
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeTool, ferr.Code)
	assert.Equal(t, "bad", ferr.NodeID)
}

func TestGuardedEdges(t *testing.T) {
	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "guard",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "loud", Kind: schema.NodeKindTool, Tool: "upper",
					Arguments: map[string]any{"text": "${{task}}"}},
				{ID: "short", Kind: schema.NodeKindOutput},
				{ID: "long", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "loud"},
				{From: "loud", To: "short", Condition: `len(value) < 5`},
				{From: "loud", To: "long", Condition: `len(value) >= 5`},
			},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})

	result, err := e.Run(context.Background(), doc, "guard", "hi")
	require.NoError(t, err)
	assert.Equal(t, "HI", result.FinalOutput)

	result, err = e.Run(context.Background(), doc, "guard", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "HELLO THERE", result.FinalOutput)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	doc := &schema.FlowDocument{
		Flows: []schema.FlowDefinition{{
			ID:    "quick",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "end", Kind: schema.NodeKindOutput},
			},
			Edges: []schema.FlowEdge{
				{From: "start", To: "end", Condition: "task != nil"},
			},
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, provider.NewScripted(), nil)
	_, err := e.Run(ctx, doc, "quick", "x")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCancelled, flowErrCode(t, err))
}

func TestDeadEndWithoutOutputNode(t *testing.T) {
	doc := &schema.FlowDocument{
		Tools: []schema.ToolDefinition{functionTool("upper")},
		Flows: []schema.FlowDefinition{{
			ID:    "nowhere",
			Entry: "start",
			Nodes: []schema.FlowNode{
				{ID: "start", Kind: schema.NodeKindInput},
				{ID: "loud", Kind: schema.NodeKindTool, Tool: "upper", Arguments: map[string]any{"text": "x"}},
			},
			Edges: []schema.FlowEdge{{From: "start", To: "loud"}},
		}},
	}

	e := newTestEngine(t, provider.NewScripted(), map[string]tools.Func{"upper": upperFunc})
	_, err := e.Run(context.Background(), doc, "nowhere", "go")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDeadEnd, flowErrCode(t, err))
}
