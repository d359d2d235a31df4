package token

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
)

// summarizerClient answers every Generate call with a fixed summary.
type summarizerClient struct {
	summary string
	err     error
	calls   int
}

func (c *summarizerClient) Generate(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) (*model.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &model.Response{Content: c.summary}, nil
}

func (c *summarizerClient) GenerateStream(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) iter.Seq2[*model.StreamChunk, error] {
	return func(yield func(*model.StreamChunk, error) bool) {
		resp, err := c.Generate(ctx, messages, tools, metadata)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&model.StreamChunk{Type: model.ChunkDone, Response: resp}, nil)
	}
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(&summarizerClient{}, Config{})
	assert.Equal(t, DefaultTokenLimit, m.TokenLimit())

	m = NewManager(&summarizerClient{}, Config{TokenLimit: 500})
	assert.Equal(t, 500, m.TokenLimit())
}

func TestEstimateTokens(t *testing.T) {
	m := NewManager(&summarizerClient{}, Config{})

	short := []model.Message{model.NewUserMessage("hi")}
	long := []model.Message{model.NewUserMessage(strings.Repeat("the quick brown fox ", 50))}

	assert.Greater(t, m.EstimateTokens(short), 0)
	assert.Greater(t, m.EstimateTokens(long), m.EstimateTokens(short))
}

func TestEstimateTokensCountsToolCalls(t *testing.T) {
	m := NewManager(&summarizerClient{}, Config{})

	plain := []model.Message{model.NewAssistantMessage("ok")}
	withCalls := []model.Message{{
		Role:    model.RoleAssistant,
		Content: "ok",
		ToolCalls: []model.ToolCall{{
			ID:       "c1",
			Function: model.FunctionCall{Name: "grep", Arguments: map[string]any{"pattern": "needle"}},
		}},
	}}

	assert.Greater(t, m.EstimateTokens(withCalls), m.EstimateTokens(plain))
}

func overflowingHistory() []model.Message {
	big := strings.Repeat("lots of intermediate output ", 100)
	return []model.Message{
		model.NewSystemMessage("You are helpful."),
		model.NewUserMessage("first task"),
		model.NewAssistantMessage(big),
		model.NewToolMessage("c1", "grep", big),
		model.NewUserMessage("second task"),
		model.NewAssistantMessage(big),
	}
}

func TestMaybeSummarizeDisabled(t *testing.T) {
	client := &summarizerClient{summary: "unused"}
	m := NewManager(client, Config{TokenLimit: 10, EnableSummarization: false})

	messages := overflowingHistory()
	got := m.MaybeSummarize(context.Background(), messages)

	assert.Equal(t, messages, got)
	assert.Zero(t, client.calls)
}

func TestMaybeSummarizeUnderLimit(t *testing.T) {
	client := &summarizerClient{summary: "unused"}
	m := NewManager(client, Config{TokenLimit: DefaultTokenLimit, EnableSummarization: true})

	messages := overflowingHistory()
	got := m.MaybeSummarize(context.Background(), messages)

	assert.Equal(t, messages, got)
	assert.Zero(t, client.calls)
}

func TestMaybeSummarizeCompactsRounds(t *testing.T) {
	client := &summarizerClient{summary: "did the work"}
	m := NewManager(client, Config{TokenLimit: 50, EnableSummarization: true})

	got := m.MaybeSummarize(context.Background(), overflowingHistory())

	// system, user1, summary, user2, summary
	require.Len(t, got, 5)
	assert.Equal(t, model.RoleSystem, got[0].Role)
	assert.Equal(t, "first task", got[1].Content)
	assert.Equal(t, model.RoleUser, got[2].Role)
	assert.Equal(t, "[Assistant Execution Summary]\n\ndid the work", got[2].Content)
	assert.Equal(t, "second task", got[3].Content)
	assert.Equal(t, 2, client.calls, "one summary call per execution round")

	assert.Less(t, m.EstimateTokens(got), m.EstimateTokens(overflowingHistory()))
}

func TestMaybeSummarizeFailureFallsBack(t *testing.T) {
	client := &summarizerClient{err: fmt.Errorf("model unavailable")}
	m := NewManager(client, Config{TokenLimit: 50, EnableSummarization: true})

	got := m.MaybeSummarize(context.Background(), overflowingHistory())

	require.Len(t, got, 5)
	assert.Contains(t, got[2].Content, "(summary generation failed)")
}

func TestMaybeSummarizeNoUserAnchor(t *testing.T) {
	client := &summarizerClient{summary: "unused"}
	m := NewManager(client, Config{TokenLimit: 10, EnableSummarization: true})

	big := strings.Repeat("x ", 200)
	messages := []model.Message{
		model.NewSystemMessage("sys"),
		model.NewAssistantMessage(big),
	}
	got := m.MaybeSummarize(context.Background(), messages)
	assert.Equal(t, messages, got)
}
