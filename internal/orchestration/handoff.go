package orchestration

import (
	"context"
	"regexp"
	"strings"

	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/internal/tools"
	"github.com/rendis/agentgraph/pkg/schema"
)

const (
	// DefaultMaxHandoffs bounds agent switches within one handoff turn.
	DefaultMaxHandoffs = 4
	// DefaultHandoffRounds bounds agent executions within one handoff turn.
	DefaultHandoffRounds = 32
)

// Handoff runs an active-agent state machine: one agent owns the
// conversation until it responds, completes, or hands off to a roster peer.
// Handoff directives come from the internal handoff tool, a JSON envelope or
// natural-language cue in the reply, or deterministic flow rules. The lead
// roster agent starts.
type Handoff struct{}

func (h *Handoff) Name() string { return StrategyHandoff }

func (h *Handoff) Run(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if err := requireRoster(req); err != nil {
		return nil, err
	}

	opts := req.Handoff
	if opts == nil {
		opts = &schema.HandoffOptions{}
	}
	maxHandoffs := opts.MaxHandoffs
	if maxHandoffs <= 0 {
		maxHandoffs = DefaultMaxHandoffs
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultHandoffRounds
	}

	aliases := make(map[string]string, len(opts.Aliases))
	for _, a := range opts.Aliases {
		aliases[normalizeAgentKey(a.Alias)] = a.Target
	}

	rules, err := compileRules(opts.Rules)
	if err != nil {
		return nil, err
	}

	active := req.Roster.Lead()
	remaining := maxHandoffs
	handoffs := 0

	for round := 1; ; round++ {
		if round > maxRounds {
			return nil, schema.NewErrorf(schema.ErrCodeDecision,
				"handoff exceeded %d rounds without resolution", maxRounds)
		}

		execOpts := execOptions(req, nil)
		execOpts.ExtraTools = controlToolSchemas()
		execOpts.Intercept = interceptControlTools

		turn, err := active.Execute(ctx, req.Transcript, execOpts)
		if err != nil {
			return nil, err
		}
		action := turn.Action

		// Text-derived handoffs are advisory when the flow requires the
		// explicit handoff tool. Rules below still apply.
		if opts.ForceHandoffTool && action.Kind == ActionHandOff && action.Source != SourceTool {
			action = Respond(turn.Content)
		}

		if action.Kind == ActionRespond {
			if rule := matchRules(rules, action.Message); rule != nil {
				action = AgentAction{
					Kind:    ActionHandOff,
					Target:  rule.target,
					Message: rule.message,
					Source:  SourceRule,
				}
			}
		}

		switch action.Kind {
		case ActionRespond:
			if strings.TrimSpace(action.Message) != "" {
				req.Transcript.AppendAssistant(active.ID, action.Message, nil)
			}
			return &TurnResult{FinalOutput: action.Message, Rounds: round, Handoffs: handoffs}, nil

		case ActionHandOff:
			if remaining == 0 {
				return nil, schema.NewErrorf(schema.ErrCodeDecision,
					"handoff budget of %d exhausted", maxHandoffs)
			}
			remaining--
			handoffs++

			if strings.TrimSpace(action.Message) != "" {
				req.Transcript.AppendAssistant(active.ID, action.Message, nil)
			}

			next, err := resolveTarget(req.Roster, aliases, active.ID, action.Target)
			if err != nil {
				return nil, err
			}
			req.emit("handoff", map[string]any{
				"from": active.ID, "to": next.ID, "source": int(action.Source),
			})
			active = next

		case ActionComplete:
			if strings.TrimSpace(action.Message) != "" {
				req.Transcript.AppendAssistant(active.ID, action.Message, nil)
			}
			req.emit("completed", map[string]any{"agent": active.ID})
			return &TurnResult{FinalOutput: action.Message, Rounds: round, Handoffs: handoffs}, nil
		}
	}
}

// controlToolSchemas exposes the handoff and complete control tools to the
// active agent.
func controlToolSchemas() []provider.ToolSchema {
	return []provider.ToolSchema{
		{
			Name:        "handoff",
			Description: "Transfer the conversation to another agent.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      map[string]any{"type": "string", "description": "id of the agent to transfer to"},
					"message": map[string]any{"type": "string", "description": "optional note for the next agent"},
				},
				"required": []any{"to"},
			},
		},
		{
			Name:        "complete",
			Description: "Mark the task as finished.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string", "description": "optional final message"},
				},
			},
		},
	}
}

// interceptControlTools turns control tool calls into actions before they
// reach the dispatcher.
func interceptControlTools(call schema.ToolCall) *AgentAction {
	switch call.Name {
	case "handoff":
		args, _ := tools.ParseArguments(call.Arguments)
		target, _ := args["to"].(string)
		message, _ := args["message"].(string)
		return &AgentAction{Kind: ActionHandOff, Target: target, Message: message}
	case "complete":
		args, _ := tools.ParseArguments(call.Arguments)
		message, _ := args["message"].(string)
		return &AgentAction{Kind: ActionComplete, Message: message}
	}
	return nil
}

type compiledRule struct {
	target  string
	message string
	match   func(text string) bool
}

func compileRules(rules []schema.HandoffRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{target: r.Target, message: r.Message}
		switch r.Matcher.Kind {
		case "keywords_any":
			keywords := lowercaseAll(r.Matcher.Keywords)
			cr.match = func(text string) bool {
				lower := strings.ToLower(text)
				for _, kw := range keywords {
					if strings.Contains(lower, kw) {
						return true
					}
				}
				return false
			}
		case "keywords_all":
			keywords := lowercaseAll(r.Matcher.Keywords)
			cr.match = func(text string) bool {
				lower := strings.ToLower(text)
				for _, kw := range keywords {
					if !strings.Contains(lower, kw) {
						return false
					}
				}
				return len(keywords) > 0
			}
		case "regex":
			re, err := regexp.Compile(r.Matcher.Pattern)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"handoff rule %q: invalid pattern: %s", r.ID, err.Error()).WithCause(err)
			}
			cr.match = re.MatchString
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"handoff rule %q: unknown matcher kind %q", r.ID, r.Matcher.Kind)
		}
		out = append(out, cr)
	}
	return out, nil
}

// matchRules returns the first rule matching the assistant text, in declared
// order.
func matchRules(rules []compiledRule, text string) *compiledRule {
	for i := range rules {
		if rules[i].match(text) {
			return &rules[i]
		}
	}
	return nil
}

func normalizeAgentKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// resolveTarget maps a raw handoff target to a roster agent: alias lookup,
// then exact case-insensitive match on id or name, then prefix match, then
// fuzzy match within edit distance 3. A self-handoff is rejected wherever it
// resolves.
func resolveTarget(roster *Roster, aliases map[string]string, currentID, raw string) (*Agent, error) {
	want := normalizeAgentKey(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if want == "" {
		return nil, schema.NewErrorf(schema.ErrCodeDecision, "unknown handoff target %q", raw)
	}
	if alias, ok := aliases[want]; ok {
		want = normalizeAgentKey(alias)
	}

	current := normalizeAgentKey(currentID)
	check := func(a *Agent) (*Agent, error) {
		if normalizeAgentKey(a.ID) == current {
			return nil, schema.NewError(schema.ErrCodeDecision, "self handoff not allowed")
		}
		return a, nil
	}

	for _, a := range roster.Agents() {
		if normalizeAgentKey(a.ID) == want || normalizeAgentKey(a.Name) == want {
			return check(a)
		}
	}

	for _, a := range roster.Agents() {
		if strings.HasPrefix(normalizeAgentKey(a.ID), want) {
			return check(a)
		}
	}

	var best *Agent
	bestDist := -1
	for _, a := range roster.Agents() {
		d := levenshtein(want, normalizeAgentKey(a.ID))
		if bestDist < 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	if best != nil && bestDist <= 3 {
		return check(best)
	}

	return nil, schema.NewErrorf(schema.ErrCodeDecision, "unknown handoff target %q", raw)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func lowercaseAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
