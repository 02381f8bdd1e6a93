package engine

import (
	"context"
	"encoding/json"

	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/orchestration"
	"github.com/rendis/agentgraph/pkg/schema"
)

// executeAgent runs an agent node: it assembles the roster, selects the
// orchestration strategy (node > flow > engine default), posts the task turn,
// and binds the strategy's final output.
func (fr *flowRun) executeAgent(ctx context.Context, node *schema.FlowNode) (*firing, error) {
	lead, ok := fr.rt.agents[node.Agent]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not defined", node.Agent)
	}
	ctx = logging.WithAgentID(ctx, lead.ID)

	roster := orchestration.NewRoster(fr.nodeAgent(node, lead))
	for _, pid := range node.Participants {
		participant, ok := fr.rt.agents[pid]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not defined", pid)
		}
		roster.Add(participant)
	}

	task, err := fr.agentTask(ctx, node)
	if err != nil {
		return nil, err
	}
	if task != "" {
		fr.ec.Transcript.AppendUser(task)
	}

	name := node.Strategy
	if name == "" {
		name = fr.flow.Strategy
	}
	if name == "" {
		name = fr.rt.engine.opts.Strategy
	}
	strategy, err := orchestration.ForName(name)
	if err != nil {
		return nil, err
	}

	req := &orchestration.TurnRequest{
		Task:             task,
		Roster:           roster,
		Transcript:       fr.ec.Transcript,
		Handoff:          fr.flow.Handoff,
		GroupChat:        fr.flow.GroupChat,
		MaxToolDepth:     fr.rt.engine.opts.MaxToolDepth,
		RequestUserInput: fr.rt.engine.opts.RequestUserInput,
		OnEvent: func(event string, payload map[string]any) {
			switch event {
			case "handoff":
				fr.rt.emit(ctx, fr.ec, schema.EventHandoff, node.ID, lead.ID, payload)
			case "step", "completed", "delegation":
				fr.rt.emit(ctx, fr.ec, schema.EventTurnAppended, node.ID, lead.ID, payload)
			}
		},
	}

	result, err := strategy.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	return fr.fireAll(node, result.FinalOutput), nil
}

// nodeAgent applies node-level overrides (tool subset, call parameters) on
// top of a defined agent.
func (fr *flowRun) nodeAgent(node *schema.FlowNode, base *orchestration.Agent) *orchestration.Agent {
	if len(node.Tools) == 0 && node.Parameters == nil {
		return base
	}
	derived := *base
	if len(node.Tools) > 0 {
		derived.Tools = node.Tools
	}
	if node.Parameters != nil {
		derived.Settings = schema.MergeCallSettings(base.Settings, node.Parameters)
	}
	return &derived
}

// agentTask renders the node's prompt, falling back to the node's input value
// as text.
func (fr *flowRun) agentTask(ctx context.Context, node *schema.FlowNode) (string, error) {
	if node.Prompt != "" {
		return fr.nodePrompt(ctx, node)
	}
	return stringify(fr.primaryInput(node.ID)), nil
}

// stringify renders a bound value for use as conversational text.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
