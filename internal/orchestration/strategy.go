package orchestration

import (
	"context"
	"strings"

	"github.com/rendis/agentgraph/internal/transcript"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Strategy names accepted in flow and node definitions.
const (
	StrategySequential = "sequential"
	StrategyConcurrent = "concurrent"
	StrategyHandoff    = "handoff"
	StrategyGroupChat  = "group_chat"
	StrategyMagentic   = "magentic"
)

// Roster is an ordered set of runtime agents. The first member is the lead:
// the node's primary agent, which handoff starts from and magentic uses as
// the manager.
type Roster struct {
	agents []*Agent
	byID   map[string]*Agent
}

// NewRoster builds a roster preserving agent order.
func NewRoster(agents ...*Agent) *Roster {
	r := &Roster{byID: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		r.Add(a)
	}
	return r
}

// Add appends an agent, ignoring duplicates by id.
func (r *Roster) Add(a *Agent) {
	key := strings.ToLower(a.ID)
	if _, exists := r.byID[key]; exists {
		return
	}
	r.byID[key] = a
	r.agents = append(r.agents, a)
}

// Get returns the agent with the given id, case-insensitively.
func (r *Roster) Get(id string) (*Agent, bool) {
	a, ok := r.byID[strings.ToLower(id)]
	return a, ok
}

// Agents returns the roster in order.
func (r *Roster) Agents() []*Agent { return r.agents }

// Lead returns the first agent, or nil when empty.
func (r *Roster) Lead() *Agent {
	if len(r.agents) == 0 {
		return nil
	}
	return r.agents[0]
}

// Len returns the roster size.
func (r *Roster) Len() int { return len(r.agents) }

// IDs returns the agent ids in roster order.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.agents))
	for i, a := range r.agents {
		out[i] = a.ID
	}
	return out
}

// TurnRequest carries everything a strategy needs for one multi-agent turn.
type TurnRequest struct {
	Task       string
	Roster     *Roster
	Transcript *transcript.Transcript

	// Flow-level strategy options; nil selects defaults.
	Handoff   *schema.HandoffOptions
	GroupChat *schema.GroupChatOptions

	// MaxToolDepth is passed through to agent executions.
	MaxToolDepth int

	// RequestUserInput is consulted by group chat when the manager schedules
	// a user turn; nil skips user turns.
	RequestUserInput func(ctx context.Context, prompt string) (string, error)

	// OnEvent, when set, observes strategy progress (handoffs, delegations,
	// per-agent steps).
	OnEvent func(event string, payload map[string]any)
}

func (tr *TurnRequest) emit(event string, payload map[string]any) {
	if tr.OnEvent != nil {
		tr.OnEvent(event, payload)
	}
}

// TurnResult is the outcome of a strategy run.
type TurnResult struct {
	FinalOutput string
	Rounds      int
	Handoffs    int
}

// Strategy coordinates a roster of agents over a shared transcript.
type Strategy interface {
	Name() string
	Run(ctx context.Context, req *TurnRequest) (*TurnResult, error)
}

// ForName returns the strategy registered under the given name; the empty
// name selects sequential.
func ForName(name string) (Strategy, error) {
	switch name {
	case "", StrategySequential:
		return &Sequential{}, nil
	case StrategyConcurrent:
		return &Concurrent{}, nil
	case StrategyHandoff:
		return &Handoff{}, nil
	case StrategyGroupChat:
		return &GroupChat{}, nil
	case StrategyMagentic:
		return &Magentic{}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown strategy %q", name)
	}
}

func requireRoster(req *TurnRequest) error {
	if req.Roster == nil || req.Roster.Len() == 0 {
		return schema.NewError(schema.ErrCodeValidation, "strategy requires at least one agent")
	}
	return nil
}

func execOptions(req *TurnRequest, settings *schema.CallSettings) *ExecOptions {
	return &ExecOptions{Settings: settings, MaxToolDepth: req.MaxToolDepth}
}
