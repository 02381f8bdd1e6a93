package orchestration

import (
	"context"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

// DefaultGroupChatRounds bounds a group chat when no budget is configured.
const DefaultGroupChatRounds = 6

// Manager decides who speaks next in a group chat and when it ends.
type Manager interface {
	// OnStart observes the roster before the first round.
	OnStart(roster *Roster)
	// SelectNext picks the next speaker; false ends the chat.
	SelectNext(roster *Roster, turns []schema.Turn, round int) (string, bool)
	// ShouldTerminate is consulted before each round.
	ShouldTerminate(round int, turns []schema.Turn) bool
	// MaxRounds caps the chat; zero means unlimited.
	MaxRounds() int
	// ShouldRequestUserInput schedules a user turn before the round.
	ShouldRequestUserInput(round int, turns []schema.Turn) bool
}

// RoundRobinManager rotates through the roster in order, optionally pausing
// for user input every few rounds.
type RoundRobinManager struct {
	maximumRounds       int
	userPromptFrequency int
	index               int
}

// NewRoundRobinManager builds a round-robin manager. Non-positive rounds
// select the default budget; frequency zero disables user turns.
func NewRoundRobinManager(maximumRounds, userPromptFrequency int) *RoundRobinManager {
	if maximumRounds <= 0 {
		maximumRounds = DefaultGroupChatRounds
	}
	return &RoundRobinManager{
		maximumRounds:       maximumRounds,
		userPromptFrequency: userPromptFrequency,
	}
}

func (m *RoundRobinManager) OnStart(roster *Roster) { m.index = 0 }

func (m *RoundRobinManager) SelectNext(roster *Roster, turns []schema.Turn, round int) (string, bool) {
	if roster.Len() == 0 {
		return "", false
	}
	agent := roster.Agents()[m.index%roster.Len()]
	m.index = (m.index + 1) % roster.Len()
	return agent.ID, true
}

func (m *RoundRobinManager) ShouldTerminate(round int, turns []schema.Turn) bool { return false }

func (m *RoundRobinManager) MaxRounds() int { return m.maximumRounds }

func (m *RoundRobinManager) ShouldRequestUserInput(round int, turns []schema.Turn) bool {
	return m.userPromptFrequency > 0 && round > 0 && round%m.userPromptFrequency == 0
}

// GroupChat runs the roster as a moderated conversation: a Manager selects
// each speaker, every reply lands on the shared transcript, and the last
// message when the chat ends is the final output. A completion signal from
// any participant ends the chat immediately.
type GroupChat struct {
	// Manager overrides the default round-robin manager.
	Manager Manager
}

func (g *GroupChat) Name() string { return StrategyGroupChat }

func (g *GroupChat) Run(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if err := requireRoster(req); err != nil {
		return nil, err
	}

	manager := g.Manager
	if manager == nil {
		opts := req.GroupChat
		if opts == nil {
			opts = &schema.GroupChatOptions{}
		}
		manager = NewRoundRobinManager(opts.MaximumRounds, opts.UserPromptFrequency)
	}
	manager.OnStart(req.Roster)

	spoke := false
	round := 0

	for {
		turns := req.Transcript.Snapshot()

		if manager.ShouldRequestUserInput(round, turns) && req.RequestUserInput != nil {
			input, err := req.RequestUserInput(ctx, "The group is waiting for your input.")
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(input) != "" {
				req.Transcript.AppendUser(input)
			}
		}

		if manager.ShouldTerminate(round, turns) {
			break
		}
		if max := manager.MaxRounds(); max > 0 && round >= max {
			break
		}

		speakerID, ok := manager.SelectNext(req.Roster, turns, round)
		if !ok {
			break
		}
		speaker, found := req.Roster.Get(speakerID)
		if !found {
			return nil, schema.NewErrorf(schema.ErrCodeDecision,
				"group chat manager selected unknown agent %q", speakerID)
		}

		turn, err := speaker.Execute(ctx, req.Transcript, execOptions(req, nil))
		if err != nil {
			return nil, err
		}
		round++

		action := turn.Action
		if action.Message != "" {
			req.Transcript.AppendAssistant(speaker.ID, action.Message, nil)
			spoke = true
		}
		req.emit("step", map[string]any{"agent": speaker.ID, "round": round, "output": action.Message})

		if action.Kind == ActionComplete {
			break
		}
	}

	// Last message wins, read back from the shared transcript. A chat where
	// nobody produced a message yields no output.
	var final string
	if spoke {
		if turn, ok := req.Transcript.LastAssistant(); ok {
			final = turn.Content
		}
	}
	return &TurnResult{FinalOutput: final, Rounds: round}, nil
}
