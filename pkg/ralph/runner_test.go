package ralph

import (
	"context"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/event"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/tool"
)

// iterClient returns one scripted response per iteration and keeps the last
// conversation it saw.
type iterClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	lastSeen  []model.Message
}

func (c *iterClient) Generate(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) (*model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = model.CloneMessages(messages)
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return &model.Response{
		Content: c.responses[idx],
		Usage:   &model.TokenUsage{Input: 10, Output: 5},
	}, nil
}

func (c *iterClient) GenerateStream(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) iter.Seq2[*model.StreamChunk, error] {
	return func(yield func(*model.StreamChunk, error) bool) {
		resp, _ := c.Generate(ctx, messages, tools, metadata)
		yield(&model.StreamChunk{Type: model.ChunkDone, Response: resp}, nil)
	}
}

var _ llm.Client = (*iterClient)(nil)

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerConfig{WorkspaceDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm client is required")

	_, err = NewRunner(RunnerConfig{LLM: &iterClient{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace directory is required")
}

func TestRunnerCompletesOnPromise(t *testing.T) {
	client := &iterClient{responses: []string{
		"Fixed everything.\n<promise>TASK COMPLETE</promise>",
	}}
	r, err := NewRunner(RunnerConfig{
		LLM:          client,
		WorkspaceDir: t.TempDir(),
	})
	require.NoError(t, err)

	var starts, ends, completions int
	r.Emitter().On(event.RalphIterationStart, func(ev *event.Event) error {
		starts++
		assert.Equal(t, 1, ev.Data["iteration"])
		return nil
	})
	r.Emitter().On(event.RalphIterationEnd, func(ev *event.Event) error {
		ends++
		return nil
	})
	r.Emitter().On(event.RalphCompletion, func(ev *event.Event) error {
		completions++
		assert.Equal(t, string(ConditionPromiseTag), ev.Data["reason"])
		return nil
	})

	result, err := r.Run(context.Background(), "fix the build")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, string(ConditionPromiseTag), result.Reason)
	assert.Contains(t, result.Message, "TASK COMPLETE")
	assert.Contains(t, result.Result, "Fixed everything.")
	assert.Equal(t, 1, result.TotalSteps)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)
	assert.Equal(t, 1, completions)

	assert.Equal(t, 1, r.WorkingMemory().CurrentIteration())

	// The iteration agent's system prompt carries the ralph section and the
	// user turn carries the task.
	client.mu.Lock()
	defer client.mu.Unlock()
	require.NotEmpty(t, client.lastSeen)
	assert.Equal(t, model.RoleSystem, client.lastSeen[0].Role)
	assert.Contains(t, client.lastSeen[0].Content, "## Ralph Mode (Iteration 1)")
	assert.Contains(t, client.lastSeen[0].Content, "fix the build")
	assert.Equal(t, "fix the build", client.lastSeen[len(client.lastSeen)-1].Content)
}

func TestRunnerStopsAtMaxIterations(t *testing.T) {
	client := &iterClient{responses: []string{"still working on it"}}
	r, err := NewRunner(RunnerConfig{
		Ralph:        Config{MaxIterations: 2, IdleThreshold: 50},
		LLM:          client,
		WorkspaceDir: t.TempDir(),
	})
	require.NoError(t, err)

	result, err := r.Run(context.Background(), "never-ending task")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, string(ConditionMaxIterations), result.Reason)
	assert.Contains(t, result.Message, "Max iterations (2) reached")
	assert.Equal(t, 2, result.TotalSteps)
	assert.Equal(t, 2, client.calls)
}

func TestRunnerCancelledContext(t *testing.T) {
	client := &iterClient{responses: []string{"still working"}}
	r, err := NewRunner(RunnerConfig{
		LLM:          client,
		WorkspaceDir: t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, "task")
	require.ErrorIs(t, err, context.Canceled)
}

func TestHandleToolResultRecordsFilesAndSummarizes(t *testing.T) {
	r, err := NewRunner(RunnerConfig{
		LLM:          &iterClient{responses: []string{"ok"}},
		WorkspaceDir: t.TempDir(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	summary := r.handleToolResult(ctx, tool.ExecutionResult{
		ToolName:   "write_file",
		ToolCallID: "call_1",
		Arguments:  map[string]any{"file_path": "main.go"},
		Result:     tool.Ok("wrote 10 lines"),
	}, 1)
	assert.Equal(t, "wrote 10 lines", summary)
	assert.True(t, r.WorkingMemory().FilesModified()["main.go"])

	// edit_file falls back to the "path" argument.
	_ = r.handleToolResult(ctx, tool.ExecutionResult{
		ToolName:   "edit_file",
		ToolCallID: "call_2",
		Arguments:  map[string]any{"path": "util.go"},
		Result:     tool.Ok("edited"),
	}, 1)
	assert.True(t, r.WorkingMemory().FilesModified()["util.go"])

	// Failed executions are not rewritten.
	summary = r.handleToolResult(ctx, tool.ExecutionResult{
		ToolName:   "grep",
		ToolCallID: "call_3",
		Arguments:  map[string]any{"pattern": "x"},
		Result:     tool.Fail("no matches"),
	}, 1)
	assert.Empty(t, summary)

	// Successful results land in the cache.
	full, ok := r.ContextManager().FullToolResult("call_1")
	require.True(t, ok)
	assert.Equal(t, "wrote 10 lines", full)
}

func TestBuildRalphSection(t *testing.T) {
	r, err := NewRunner(RunnerConfig{
		LLM:          &iterClient{responses: []string{"ok"}},
		WorkspaceDir: t.TempDir(),
	})
	require.NoError(t, err)

	section := r.buildRalphSection("refactor the parser", 3)

	assert.True(t, strings.HasPrefix(section, "## Ralph Mode (Iteration 3)"))
	assert.Contains(t, section, "refactor the parser")
	assert.Contains(t, section, "<promise>TASK COMPLETE</promise>")
	assert.Contains(t, section, "`signal_completion`")
	assert.Contains(t, section, "## Working Memory")
}
