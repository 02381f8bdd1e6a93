package provider

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rendis/agentgraph/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToChatMessages(t *testing.T) {
	turns := []schema.Turn{
		{Role: schema.RoleSystem, Content: "be terse"},
		{Role: schema.RoleUser, Content: "task"},
		{Role: schema.RoleAssistant, AgentID: "a", Content: "", ToolCalls: []schema.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: `{"id":1}`},
		}},
		{Role: schema.RoleTool, ToolCallID: "c1", ToolName: "lookup", Content: `{"ok":true}`},
		{Role: "unknown", Content: "dropped"},
	}

	messages := toChatMessages(turns)
	require.Len(t, messages, 4)

	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)

	assert.Equal(t, openai.ChatMessageRoleAssistant, messages[2].Role)
	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, "c1", messages[2].ToolCalls[0].ID)
	assert.Equal(t, "lookup", messages[2].ToolCalls[0].Function.Name)

	assert.Equal(t, openai.ChatMessageRoleTool, messages[3].Role)
	assert.Equal(t, "c1", messages[3].ToolCallID)
}
