package orchestration

import (
	"context"
)

// Sequential runs the roster as a pipeline: each agent takes one turn over
// the accumulating transcript, and the last reply is the final output. A
// completion signal from any agent short-circuits the pipeline.
type Sequential struct{}

func (s *Sequential) Name() string { return StrategySequential }

func (s *Sequential) Run(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if err := requireRoster(req); err != nil {
		return nil, err
	}

	payload := req.Task
	agents := req.Roster.Agents()

	for i, agent := range agents {
		turn, err := agent.Execute(ctx, req.Transcript, execOptions(req, nil))
		if err != nil {
			return nil, err
		}

		switch turn.Action.Kind {
		case ActionComplete:
			if turn.Action.Message != "" {
				req.Transcript.AppendAssistant(agent.ID, turn.Action.Message, nil)
				payload = turn.Action.Message
			}
			req.emit("completed", map[string]any{"agent": agent.ID, "output": payload})
			return &TurnResult{FinalOutput: payload, Rounds: i + 1}, nil
		default:
			// A handoff directive carries no weight in a fixed pipeline;
			// its message still flows downstream.
			msg := turn.Action.Message
			req.Transcript.AppendAssistant(agent.ID, msg, nil)
			if msg != "" {
				payload = msg
			}
			req.emit("step", map[string]any{"agent": agent.ID, "output": msg})
		}
	}

	return &TurnResult{FinalOutput: payload, Rounds: len(agents)}, nil
}
