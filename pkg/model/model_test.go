package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, Message{Role: RoleSystem, Content: "sys"}, NewSystemMessage("sys"))
	assert.Equal(t, Message{Role: RoleUser, Content: "hi"}, NewUserMessage("hi"))
	assert.Equal(t, Message{Role: RoleAssistant, Content: "hello"}, NewAssistantMessage("hello"))
	assert.Equal(t, Message{
		Role:       RoleTool,
		Content:    "output",
		ToolCallID: "call_1",
		Name:       "grep",
	}, NewToolMessage("call_1", "grep", "output"))
}

func TestTokenUsageAdd(t *testing.T) {
	usage := TokenUsage{Input: 10, Output: 5}
	usage.Add(TokenUsage{Input: 3, Output: 2, CacheReadInput: 7})

	assert.Equal(t, 13, usage.Input)
	assert.Equal(t, 7, usage.Output)
	assert.Equal(t, 7, usage.CacheReadInput)
	assert.Equal(t, 0, usage.CacheCreationInput)
}

func TestResponseHasToolCalls(t *testing.T) {
	assert.False(t, (&Response{Content: "plain"}).HasToolCalls())
	assert.True(t, (&Response{ToolCalls: []ToolCall{{ID: "call_1"}}}).HasToolCalls())
}

func TestCloneMessages(t *testing.T) {
	original := []Message{
		NewUserMessage("task"),
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: FunctionCall{
					Name: "write_file",
					Arguments: map[string]any{
						"path":    "out.txt",
						"options": map[string]any{"append": true},
					},
				},
			}},
		},
	}

	cloned := CloneMessages(original)
	require.Len(t, cloned, 2)
	assert.Equal(t, original, cloned)

	// Mutating the clone leaves the source untouched at every depth.
	cloned[0].Content = "mutated"
	cloned[1].ToolCalls[0].Function.Arguments["path"] = "other.txt"
	cloned[1].ToolCalls[0].Function.Arguments["options"].(map[string]any)["append"] = false

	assert.Equal(t, "task", original[0].Content)
	args := original[1].ToolCalls[0].Function.Arguments
	assert.Equal(t, "out.txt", args["path"])
	assert.Equal(t, true, args["options"].(map[string]any)["append"])
}

func TestCloneMessagesNil(t *testing.T) {
	assert.Nil(t, CloneMessages(nil))
}
