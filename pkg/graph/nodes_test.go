package graph

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/tool"
)

type staticClient struct {
	content string
}

func (c *staticClient) Generate(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) (*model.Response, error) {
	return &model.Response{Content: c.content}, nil
}

func (c *staticClient) GenerateStream(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) iter.Seq2[*model.StreamChunk, error] {
	return func(yield func(*model.StreamChunk, error) bool) {
		resp, _ := c.Generate(ctx, messages, tools, metadata)
		yield(&model.StreamChunk{Type: model.ChunkDone, Response: resp}, nil)
	}
}

var _ llm.Client = (*staticClient)(nil)

type stubTool struct {
	name   string
	result *tool.Result
	err    error
}

func (t *stubTool) Name() string               { return t.name }
func (t *stubTool) Description() string        { return "stub" }
func (t *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (t *stubTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	return t.result, t.err
}

func newGraphAgent(t *testing.T, content string) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name:           "node-agent",
		LLM:            &staticClient{content: content},
		DisableLogging: true,
	})
	require.NoError(t, err)
	return a
}

func TestAgentNodeDefaults(t *testing.T) {
	fn := AgentNode(newGraphAgent(t, "analysis complete"), AgentNodeConfig{})

	update, err := fn(context.Background(), State{"input": "analyze this"})
	require.NoError(t, err)
	assert.Equal(t, "analysis complete", update["output"])
}

func TestAgentNodeCustomKeysAndHistory(t *testing.T) {
	fn := AgentNode(newGraphAgent(t, "the answer"), AgentNodeConfig{
		InputKey:   "question",
		OutputKey:  "answer",
		HistoryKey: "history",
	})

	update, err := fn(context.Background(), State{"question": "what is it"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", update["answer"])
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "what is it"},
		map[string]any{"role": "assistant", "content": "the answer"},
	}, update["history"])
}

func TestAgentNodeMissingInput(t *testing.T) {
	fn := AgentNode(newGraphAgent(t, "unused"), AgentNodeConfig{})

	_, err := fn(context.Background(), State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `requires a "input" state key`)
}

func TestToolNode(t *testing.T) {
	fn := ToolNode(&stubTool{name: "echo", result: tool.Ok("echoed")}, ToolNodeConfig{})

	update, err := fn(context.Background(), State{"args": map[string]any{"text": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "echoed", update["output"])
}

func TestToolNodeFailureBecomesError(t *testing.T) {
	fn := ToolNode(&stubTool{name: "broken", result: tool.Fail("bad input")}, ToolNodeConfig{})
	_, err := fn(context.Background(), State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool node broken failed: bad input")

	fn = ToolNode(&stubTool{name: "crashed", err: errors.New("io error")}, ToolNodeConfig{})
	_, err = fn(context.Background(), State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool node crashed: io error")
}

func TestToolNodeCustomKeys(t *testing.T) {
	captured := make(map[string]any)
	tl := &stubTool{name: "capture", result: tool.Ok("ok")}
	fn := ToolNode(tl, ToolNodeConfig{ArgsKey: "params", OutputKey: "result"})

	update, err := fn(context.Background(), State{"params": captured})
	require.NoError(t, err)
	assert.Equal(t, "ok", update["result"])
}

func TestNewRouter(t *testing.T) {
	route := NewRouter("status", map[string]string{
		"ok":   "publish",
		"fail": "retry",
	}, "review")

	assert.Equal(t, "publish", route(State{"status": "ok"}))
	assert.Equal(t, "retry", route(State{"status": "fail"}))
	assert.Equal(t, "review", route(State{"status": "weird"}))
	assert.Equal(t, "review", route(State{}))
}

func TestNewRouterDefaultsToEnd(t *testing.T) {
	route := NewRouter("status", nil, "")
	assert.Equal(t, END, route(State{"status": "anything"}))
}
