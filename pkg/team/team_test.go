package team

import (
	"context"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/session"
)

// routedClient answers based on the conversation it receives, so leader and
// member agents can share one client under concurrency.
type routedClient struct {
	mu      sync.Mutex
	respond func(messages []model.Message) *model.Response
	tasks   []string
}

func (c *routedClient) Generate(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) (*model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := messages[len(messages)-1]
	if last.Role == model.RoleUser {
		c.tasks = append(c.tasks, last.Content)
	}
	return c.respond(messages), nil
}

func (c *routedClient) GenerateStream(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) iter.Seq2[*model.StreamChunk, error] {
	return func(yield func(*model.StreamChunk, error) bool) {
		resp, _ := c.Generate(ctx, messages, tools, metadata)
		yield(&model.StreamChunk{Type: model.ChunkDone, Response: resp}, nil)
	}
}

var _ llm.Client = (*routedClient)(nil)

func twoMemberConfig() Config {
	return Config{
		Name: "analysis-team",
		Members: []MemberConfig{
			{ID: "researcher", Name: "Alice", Role: "researcher"},
			{ID: "writer", Name: "Bob", Role: "writer"},
		},
	}
}

func delegateCall(memberID, task string) model.ToolCall {
	return model.ToolCall{
		ID:   "call_delegate",
		Type: "function",
		Function: model.FunctionCall{
			Name: DelegateToolName,
			Arguments: map[string]any{
				"member_id": memberID,
				"task":      task,
			},
		},
	}
}

func TestNewValidation(t *testing.T) {
	client := &routedClient{}

	_, err := New(twoMemberConfig(), nil, nil, nil)
	require.Error(t, err)

	cfg := twoMemberConfig()
	cfg.Name = ""
	_, err = New(cfg, client, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "team name is required")

	cfg = twoMemberConfig()
	cfg.Members = nil
	_, err = New(cfg, client, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one member")

	cfg = twoMemberConfig()
	cfg.Members[1].ID = "researcher"
	_, err = New(cfg, client, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate member id")

	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMemberMaxSteps, tm.cfg.MemberMaxSteps)
}

func TestTeamRunDelegatesAndSummarizes(t *testing.T) {
	client := &routedClient{}
	client.respond = func(messages []model.Message) *model.Response {
		system := messages[0].Content
		last := messages[len(messages)-1]

		// Member agents carry their persona in the system prompt.
		if strings.Contains(system, "You are Alice") {
			return &model.Response{Content: "research notes", Usage: &model.TokenUsage{Input: 5, Output: 5}}
		}
		// Leader: delegate on the user turn, summarize on the tool result.
		if last.Role == model.RoleUser {
			return &model.Response{ToolCalls: []model.ToolCall{delegateCall("researcher", "dig into the topic")}}
		}
		return &model.Response{Content: "final team summary", Usage: &model.TokenUsage{Input: 7, Output: 3}}
	}

	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)

	resp, err := tm.Run(context.Background(), "analyze this topic", RunOptions{})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "analysis-team", resp.TeamName)
	assert.Equal(t, "final team summary", resp.Message)
	assert.Equal(t, 1, resp.Iterations)

	require.Len(t, resp.MemberRuns, 1)
	run := resp.MemberRuns[0]
	assert.Equal(t, "Alice", run.MemberName)
	assert.Equal(t, "dig into the topic", run.Task)
	assert.Equal(t, "research notes", run.Response)
	assert.True(t, run.Success)

	// Leader took two steps, the member one.
	assert.Equal(t, 3, resp.TotalSteps)
}

func TestTeamRunPersistsSession(t *testing.T) {
	client := &routedClient{
		respond: func(messages []model.Message) *model.Response {
			return &model.Response{Content: "direct answer"}
		},
	}
	sessions := session.NewManager(session.NewMemoryStore())

	tm, err := New(twoMemberConfig(), client, nil, sessions)
	require.NoError(t, err)

	resp, err := tm.Run(context.Background(), "hello team", RunOptions{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	history, err := sessions.History(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello team", history[0].Content)
	assert.Equal(t, "direct answer", history[1].Content)
}

func TestDelegateToolUnknownMember(t *testing.T) {
	client := &routedClient{
		respond: func(messages []model.Message) *model.Response {
			return &model.Response{Content: "unused"}
		},
	}
	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)

	dt := &delegateTool{team: tm}
	res, err := dt.Execute(context.Background(), map[string]any{
		"member_id": "ghost",
		"task":      "anything",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Content, "Member with ID 'ghost' not found in team")
	assert.Contains(t, res.Content, "researcher, writer")
}

func TestDelegateToolParametersEnumerateMembers(t *testing.T) {
	client := &routedClient{}
	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)

	dt := &delegateTool{team: tm}
	params := dt.Parameters()
	props := params["properties"].(map[string]any)
	memberID := props["member_id"].(map[string]any)
	assert.Equal(t, []string{"researcher", "writer"}, memberID["enum"])
}

func TestDelegateAllToolBroadcasts(t *testing.T) {
	client := &routedClient{}
	client.respond = func(messages []model.Message) *model.Response {
		system := messages[0].Content
		switch {
		case strings.Contains(system, "You are Alice"):
			return &model.Response{Content: "alice's take"}
		case strings.Contains(system, "You are Bob"):
			return &model.Response{Content: "bob's take"}
		default:
			return &model.Response{Content: "unused"}
		}
	}

	cfg := twoMemberConfig()
	cfg.DelegateToAll = true
	tm, err := New(cfg, client, nil, nil)
	require.NoError(t, err)

	dt := &delegateAllTool{team: tm}
	res, err := dt.Execute(context.Background(), map[string]any{"task": "brainstorm"})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, "Alice: alice's take\n\nBob: bob's take", res.Content)

	tm.mu.Lock()
	defer tm.mu.Unlock()
	assert.Len(t, tm.memberRuns, 2)
}

func TestLeaderPromptListsMembers(t *testing.T) {
	client := &routedClient{}
	cfg := twoMemberConfig()
	cfg.Members[0].Tools = []string{"grep", "read_file"}
	cfg.LeaderInstructions = "Always be brief."
	tm, err := New(cfg, client, nil, nil)
	require.NoError(t, err)

	prompt := tm.buildLeaderSystemPrompt("User: earlier question\nAssistant: earlier answer")

	assert.Contains(t, prompt, "<team_name>\nanalysis-team\n</team_name>")
	assert.Contains(t, prompt, "ID: researcher")
	assert.Contains(t, prompt, "Name: Bob")
	assert.Contains(t, prompt, "- grep")
	assert.Contains(t, prompt, "Member tools: (no tools)")
	assert.Contains(t, prompt, "<instructions>\nAlways be brief.\n</instructions>")
	assert.Contains(t, prompt, "<previous_interactions>")
	assert.Contains(t, prompt, "earlier question")
}
