package orchestration

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/agentgraph/internal/transcript"
)

// Reply is one agent's contribution to a concurrent turn.
type Reply struct {
	AgentID string
	Name    string
	Message string
}

// Concurrent fans the same conversation out to every roster member at once.
// Each agent works on an isolated snapshot so tool turns never interleave;
// replies land on the shared transcript in roster order. Any agent failure
// fails the turn.
type Concurrent struct {
	// Reduce aggregates the replies into the final output. Nil concatenates
	// "Name: message" blocks in roster order.
	Reduce func(replies []Reply) string
}

func (c *Concurrent) Name() string { return StrategyConcurrent }

func (c *Concurrent) Run(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if err := requireRoster(req); err != nil {
		return nil, err
	}

	snapshot := req.Transcript.Snapshot()
	agents := req.Roster.Agents()
	replies := make([]Reply, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range agents {
		g.Go(func() error {
			branch := transcript.Seed(snapshot)
			turn, err := agent.Execute(gctx, branch, execOptions(req, nil))
			if err != nil {
				return err
			}
			replies[i] = Reply{
				AgentID: agent.ID,
				Name:    agent.DisplayName(),
				Message: turn.Action.Message,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range replies {
		req.Transcript.AppendAssistant(r.AgentID, r.Message, nil)
		req.emit("step", map[string]any{"agent": r.AgentID, "output": r.Message})
	}

	reduce := c.Reduce
	if reduce == nil {
		reduce = concatReplies
	}
	return &TurnResult{FinalOutput: reduce(replies), Rounds: 1}, nil
}

func concatReplies(replies []Reply) string {
	parts := make([]string, 0, len(replies))
	for _, r := range replies {
		if r.Message == "" {
			continue
		}
		parts = append(parts, r.Name+": "+r.Message)
	}
	return strings.Join(parts, "\n\n")
}
