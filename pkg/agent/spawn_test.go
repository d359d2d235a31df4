package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/tool"
)

func TestNewSpawnToolDefaults(t *testing.T) {
	st, err := NewSpawnTool(SpawnConfig{LLM: &scriptedClient{}})
	require.NoError(t, err)

	assert.Equal(t, DefaultSpawnMaxDepth, st.cfg.MaxDepth)
	assert.Equal(t, DefaultSpawnMaxSteps, st.cfg.DefaultMaxSteps)
	assert.Equal(t, DefaultSpawnTokenLimit, st.cfg.TokenLimit)

	_, err = NewSpawnTool(SpawnConfig{})
	require.Error(t, err)
}

func TestSpawnToolRunsSubAgent(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		finalResponse("sub-agent findings"),
	}}
	st, err := NewSpawnTool(SpawnConfig{LLM: client, WorkspaceDir: t.TempDir()})
	require.NoError(t, err)

	res, err := st.Execute(context.Background(), map[string]any{
		"task": "review the auth module",
		"role": "security auditor",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Contains(t, res.Content, "## Sub-Agent Execution Result (security auditor)")
	assert.Contains(t, res.Content, "**Task:** review the auth module")
	assert.Contains(t, res.Content, "sub-agent findings")
	assert.Contains(t, res.Content, "**Depth:** 1/3")
}

func TestSpawnToolRequiresTask(t *testing.T) {
	st, err := NewSpawnTool(SpawnConfig{LLM: &scriptedClient{}})
	require.NoError(t, err)

	res, err := st.Execute(context.Background(), map[string]any{"role": "helper"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "task is required", res.Error)
}

func TestSpawnToolDepthLimit(t *testing.T) {
	st, err := NewSpawnTool(SpawnConfig{LLM: &scriptedClient{}, CurrentDepth: 3, MaxDepth: 3})
	require.NoError(t, err)

	res, err := st.Execute(context.Background(), map[string]any{"task": "anything"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Maximum agent nesting depth (3) reached")
}

func TestSpawnToolInheritsToolsWithDescent(t *testing.T) {
	root, err := NewSpawnTool(SpawnConfig{LLM: &scriptedClient{}, MaxDepth: 3})
	require.NoError(t, err)
	root.cfg.ParentTools = []tool.Tool{&echoTool{}, root}

	tools := root.buildSubAgentTools(nil)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name())

	descended, ok := tools[1].(*SpawnTool)
	require.True(t, ok)
	assert.Equal(t, 1, descended.cfg.CurrentDepth)
}

func TestSpawnToolDropsSelfAtDepthLimit(t *testing.T) {
	st, err := NewSpawnTool(SpawnConfig{LLM: &scriptedClient{}, CurrentDepth: 2, MaxDepth: 3})
	require.NoError(t, err)
	st.cfg.ParentTools = []tool.Tool{&echoTool{}, st}

	tools := st.buildSubAgentTools(nil)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name())
}

func TestSpawnToolHonorsRequestedTools(t *testing.T) {
	st, err := NewSpawnTool(SpawnConfig{LLM: &scriptedClient{}})
	require.NoError(t, err)
	st.cfg.ParentTools = []tool.Tool{&echoTool{}, NewUserInputTool()}

	tools := st.buildSubAgentTools([]string{"echo"})
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name())
}

func TestSpawnToolMaxStepsCapped(t *testing.T) {
	// Scripted client never terminates, so the sub-agent hits its step cap.
	loop := &model.Response{
		ToolCalls: []model.ToolCall{toolCallTo("c", "echo", map[string]any{"text": "x"})},
	}
	responses := make([]*model.Response, spawnMaxStepsCap+5)
	for i := range responses {
		responses[i] = loop
	}
	client := &scriptedClient{responses: responses}

	st, err := NewSpawnTool(SpawnConfig{LLM: client, ParentTools: []tool.Tool{&echoTool{}}})
	require.NoError(t, err)

	res, err := st.Execute(context.Background(), map[string]any{
		"task":      "spin forever",
		"max_steps": 100,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Content, "Task couldn't be completed after 30 steps.")
}
