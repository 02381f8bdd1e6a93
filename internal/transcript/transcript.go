package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Transcript is the append-only conversation record of a run. All agents and
// node handlers share one transcript; appends are ordered and never mutated.
// Safe for concurrent use.
type Transcript struct {
	mu    sync.RWMutex
	turns []schema.Turn
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Seed creates a transcript pre-populated with a snapshot of existing turns,
// used when a subflow inherits its parent's conversation.
func Seed(turns []schema.Turn) *Transcript {
	t := &Transcript{turns: make([]schema.Turn, len(turns))}
	copy(t.turns, turns)
	return t
}

// Append adds a turn, assigning an ID and timestamp when missing, and returns
// the stored turn.
func (t *Transcript) Append(turn schema.Turn) schema.Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
	return turn
}

// AppendUser appends a user turn.
func (t *Transcript) AppendUser(content string) schema.Turn {
	return t.Append(schema.Turn{Role: schema.RoleUser, Content: content})
}

// AppendAssistant appends an assistant turn attributed to an agent.
func (t *Transcript) AppendAssistant(agentID, content string, toolCalls []schema.ToolCall) schema.Turn {
	return t.Append(schema.Turn{
		Role:      schema.RoleAssistant,
		AgentID:   agentID,
		Content:   content,
		ToolCalls: toolCalls,
	})
}

// AppendTool appends a tool result turn answering a tool call.
func (t *Transcript) AppendTool(toolCallID, toolName, content string) schema.Turn {
	return t.Append(schema.Turn{
		Role:       schema.RoleTool,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Content:    content,
	})
}

// Snapshot returns a copy of all turns in append order.
func (t *Transcript) Snapshot() []schema.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Since returns a copy of the turns appended after the given length marker,
// as returned by Len. Used to lift a subflow's new turns into its parent.
func (t *Transcript) Since(mark int) []schema.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if mark < 0 {
		mark = 0
	}
	if mark >= len(t.turns) {
		return nil
	}
	out := make([]schema.Turn, len(t.turns)-mark)
	copy(out, t.turns[mark:])
	return out
}

// Len returns the current number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Last returns the most recent turn and true, or false when empty.
func (t *Transcript) Last() (schema.Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.turns) == 0 {
		return schema.Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// LastAssistant returns the most recent assistant turn and true, or false
// when none exists.
func (t *Transcript) LastAssistant() (schema.Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Role == schema.RoleAssistant {
			return t.turns[i], true
		}
	}
	return schema.Turn{}, false
}

// AppendAll appends a batch of already-formed turns, preserving their IDs and
// timestamps. Used to lift subflow turns into the parent transcript.
func (t *Transcript) AppendAll(turns []schema.Turn) {
	t.mu.Lock()
	t.turns = append(t.turns, turns...)
	t.mu.Unlock()
}
