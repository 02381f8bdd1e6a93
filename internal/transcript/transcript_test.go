package transcript

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rendis/agentgraph/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	tr := New()

	turn := tr.AppendUser("hello")
	assert.NotEmpty(t, turn.ID)
	assert.False(t, turn.Timestamp.IsZero())
	assert.Equal(t, schema.RoleUser, turn.Role)
	assert.Equal(t, 1, tr.Len())
}

func TestAppendOrdering(t *testing.T) {
	tr := New()
	tr.AppendUser("task")
	tr.AppendAssistant("triage", "on it", nil)
	tr.AppendTool("call-1", "lookup", `{"ok":true}`)

	turns := tr.Snapshot()
	require.Len(t, turns, 3)
	assert.Equal(t, schema.RoleUser, turns[0].Role)
	assert.Equal(t, schema.RoleAssistant, turns[1].Role)
	assert.Equal(t, "triage", turns[1].AgentID)
	assert.Equal(t, schema.RoleTool, turns[2].Role)
	assert.Equal(t, "call-1", turns[2].ToolCallID)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New()
	tr.AppendUser("one")

	snap := tr.Snapshot()
	snap[0].Content = "mutated"

	fresh := tr.Snapshot()
	assert.Equal(t, "one", fresh[0].Content)
}

func TestSince(t *testing.T) {
	tr := New()
	tr.AppendUser("before")
	mark := tr.Len()
	tr.AppendAssistant("a", "after-1", nil)
	tr.AppendAssistant("a", "after-2", nil)

	newTurns := tr.Since(mark)
	require.Len(t, newTurns, 2)
	assert.Equal(t, "after-1", newTurns[0].Content)
	assert.Equal(t, "after-2", newTurns[1].Content)

	assert.Nil(t, tr.Since(tr.Len()))
}

func TestSeedInheritsParentTurns(t *testing.T) {
	parent := New()
	parent.AppendUser("parent task")

	child := Seed(parent.Snapshot())
	require.Equal(t, 1, child.Len())

	// Child appends do not reach the parent.
	child.AppendAssistant("sub", "child work", nil)
	assert.Equal(t, 1, parent.Len())
	assert.Equal(t, 2, child.Len())
}

func TestLastAssistant(t *testing.T) {
	tr := New()
	_, ok := tr.LastAssistant()
	assert.False(t, ok)

	tr.AppendUser("q")
	tr.AppendAssistant("a1", "first", nil)
	tr.AppendAssistant("a2", "second", nil)
	tr.AppendTool("c", "t", "r")

	turn, ok := tr.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "second", turn.Content)
	assert.Equal(t, "a2", turn.AgentID)
}

func TestConcurrentAppend(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tr.AppendAssistant("agent", fmt.Sprintf("turn %d", n), nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Len())
}
