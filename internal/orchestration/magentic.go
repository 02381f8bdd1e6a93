package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/pkg/schema"
)

// DefaultMagenticRounds bounds the manager's planning loop.
const DefaultMagenticRounds = 12

const defaultManagerInstructions = `You coordinate a team of domain experts to complete the user's task.
Carefully review the task, the progress so far, and each agent's description before you answer.

Always respond with a single JSON object using one of these shapes:
- {"action":"delegate","target":"<agent name>","instructions":"<what the agent should do next>","progress_note":"<optional summary to share>"}
- {"action":"message","message":"<status update or clarifying question>"}
- {"action":"complete","result":"<final answer for the user>"}

Rules:
- Only delegate to agents listed in the roster.
- Make incremental progress. Break large tasks into focused instructions.
- Use the message action when you must ask the user for more information.
- Use the complete action only when you are confident the overall task is finished.
- Never include additional text outside the JSON object.`

// managerDecision is one parsed manager reply.
type managerDecision struct {
	kind         string // delegate | message | complete
	target       string
	instructions string
	progressNote string
	message      string
	result       string
}

// Magentic is a plan-and-execute strategy: the lead roster agent acts as the
// manager, emitting one JSON decision per round, and the remaining agents are
// the workers it delegates to. The manager sees the full conversation every
// round; a delegate's completion signal does not end the run, only the
// manager's does.
type Magentic struct {
	// MaxRounds caps the planning loop; zero selects the default.
	MaxRounds int
	// Instructions override the manager's system prompt.
	Instructions string
}

func (m *Magentic) Name() string { return StrategyMagentic }

func (m *Magentic) Run(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if err := requireRoster(req); err != nil {
		return nil, err
	}
	if req.Roster.Len() < 2 {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"magentic requires a manager and at least one delegate agent")
	}

	manager := req.Roster.Lead()
	workers := NewRoster(req.Roster.Agents()[1:]...)

	instructions := m.Instructions
	if instructions == "" {
		if manager.SystemPrompt != "" {
			instructions = manager.SystemPrompt
		} else {
			instructions = defaultManagerInstructions
		}
	}

	maxRounds := m.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMagenticRounds
	}

	for round := 1; round <= maxRounds; round++ {
		prompt := buildManagerPrompt(req.Task, round, manager.DisplayName(), workers, req.Transcript.Snapshot())

		resp, err := manager.complete(ctx, manager.Settings, &provider.Request{
			Model: manager.Settings.Model,
			Messages: []schema.Turn{
				{Role: schema.RoleSystem, Content: instructions},
				{Role: schema.RoleUser, Content: prompt},
			},
			Temperature: manager.Settings.Temperature,
			TopP:        manager.Settings.TopP,
			MaxTokens:   manager.Settings.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		decision, err := parseManagerDecision(resp.Content)
		if err != nil {
			return nil, err
		}

		switch decision.kind {
		case "delegate":
			if decision.progressNote != "" {
				req.Transcript.AppendAssistant(manager.ID, decision.progressNote, nil)
			}
			req.Transcript.AppendAssistant(manager.ID, decision.instructions, nil)
			req.emit("delegation", map[string]any{
				"target": decision.target, "instructions": decision.instructions,
			})

			worker, ok := workers.Get(decision.target)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeDecision,
					"manager delegated to unknown agent %q", decision.target)
			}

			turn, err := worker.Execute(ctx, req.Transcript, execOptions(req, nil))
			if err != nil {
				return nil, err
			}
			if msg := turn.Action.Message; msg != "" {
				req.Transcript.AppendAssistant(worker.ID, msg, nil)
			}
			req.emit("step", map[string]any{"agent": worker.ID, "output": turn.Action.Message})

		case "message":
			req.Transcript.AppendAssistant(manager.ID, decision.message, nil)
			req.emit("step", map[string]any{"agent": manager.ID, "output": decision.message})

		case "complete":
			req.Transcript.AppendAssistant(manager.ID, decision.result, nil)
			req.emit("completed", map[string]any{"agent": manager.ID, "output": decision.result})
			return &TurnResult{FinalOutput: decision.result, Rounds: round}, nil
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeDecision,
		"manager did not complete the task within %d rounds", maxRounds)
}

// buildManagerPrompt renders the per-round manager briefing: the task, the
// worker roster, and the conversation so far.
func buildManagerPrompt(task string, round int, managerName string, workers *Roster, turns []schema.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s coordinating a collaboration.\n", managerName)
	fmt.Fprintf(&b, "Task: %s\n", task)
	fmt.Fprintf(&b, "Round: %d\n", round)
	b.WriteString("Agent roster:\n")
	for _, w := range workers.Agents() {
		description := w.Description
		if description == "" {
			description = "No description provided."
		}
		fmt.Fprintf(&b, "- %s: %s\n", w.ID, description)
	}

	b.WriteString("\nConversation so far:\n")
	if len(turns) == 0 {
		b.WriteString("(no messages yet)\n")
	} else {
		for _, t := range turns {
			fmt.Fprintf(&b, "- %s: %s\n", speakerLabel(t), t.Content)
		}
	}

	b.WriteString("\nProduce your JSON decision now.\n")
	return b.String()
}

func speakerLabel(t schema.Turn) string {
	switch t.Role {
	case schema.RoleUser:
		return "User"
	case schema.RoleSystem:
		return "System"
	case schema.RoleAssistant:
		if t.AgentID != "" {
			return "Assistant::" + t.AgentID
		}
		return "Assistant"
	case schema.RoleTool:
		if t.ToolName != "" {
			return "Tool::" + t.ToolName
		}
		return "Tool"
	}
	return string(t.Role)
}

// parseManagerDecision interprets a manager reply: a JSON envelope (whole
// reply or fenced block), falling back to a status message when the reply is
// plain text. An empty reply is a decision error.
func parseManagerDecision(content string) (*managerDecision, error) {
	trimmed := strings.TrimSpace(content)

	if obj, ok := decodeObject(trimmed); ok {
		if d, ok := managerEnvelope(obj); ok {
			return d, nil
		}
	}
	for _, m := range fencedJSONRe.FindAllStringSubmatch(content, -1) {
		if obj, ok := decodeObject(m[1]); ok {
			if d, ok := managerEnvelope(obj); ok {
				return d, nil
			}
		}
	}

	if trimmed == "" {
		return nil, schema.NewError(schema.ErrCodeDecision, "manager produced an empty decision")
	}
	return &managerDecision{kind: "message", message: trimmed}, nil
}

// managerEnvelope maps a decoded object to a decision, honoring the accepted
// field aliases for each action.
func managerEnvelope(obj map[string]any) (*managerDecision, bool) {
	kind, _ := obj["action"].(string)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "delegate", "delegate_agent", "call_agent":
		target := firstString(obj, "target", "agent", "target_agent")
		instructions := firstString(obj, "instructions", "message", "task", "instruction")
		if target == "" || instructions == "" {
			return nil, false
		}
		return &managerDecision{
			kind:         "delegate",
			target:       target,
			instructions: instructions,
			progressNote: firstString(obj, "progress_note", "progress", "note", "summary"),
		}, true
	case "message", "respond", "status", "say":
		msg := firstString(obj, "message", "content", "text")
		if msg == "" {
			return nil, false
		}
		return &managerDecision{kind: "message", message: msg}, true
	case "complete", "final", "finalize":
		return &managerDecision{
			kind:   "complete",
			result: firstString(obj, "result", "message", "response"),
		}, true
	}
	return nil, false
}
