package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/model"
)

// fakeTool is a configurable test tool.
type fakeTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) (*Result, error)
}

func (t *fakeTool) Name() string               { return t.name }
func (t *fakeTool) Description() string        { return "fake tool " + t.name }
func (t *fakeTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return t.execute(ctx, args)
}

func call(id, name string, args map[string]any) model.ToolCall {
	return model.ToolCall{
		ID:       id,
		Type:     "function",
		Function: model.FunctionCall{Name: name, Arguments: args},
	}
}

func newTestExecutor(t *testing.T, cfg ExecutorConfig, tools ...Tool) *Executor {
	t.Helper()
	registry, err := NewRegistry(tools...)
	require.NoError(t, err)
	return NewExecutor(registry, cfg)
}

func TestExecuteSingleSuccess(t *testing.T) {
	greeter := &fakeTool{name: "greet", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return Ok(fmt.Sprintf("hello %v", args["who"])), nil
	}}
	e := newTestExecutor(t, ExecutorConfig{}, greeter)

	res := e.ExecuteSingle(context.Background(), call("c1", "greet", map[string]any{"who": "world"}))

	assert.Equal(t, "greet", res.ToolName)
	assert.Equal(t, "c1", res.ToolCallID)
	require.True(t, res.Result.Success)
	assert.Equal(t, "hello world", res.Result.Content)
	assert.GreaterOrEqual(t, res.ExecutionTime, time.Duration(0))
}

func TestExecuteSingleUnknownTool(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{})

	res := e.ExecuteSingle(context.Background(), call("c1", "missing", nil))

	assert.False(t, res.Result.Success)
	assert.Equal(t, "Unknown tool: missing", res.Result.Error)
}

func TestExecuteSingleErrorAndPanic(t *testing.T) {
	failing := &fakeTool{name: "failing", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, fmt.Errorf("disk on fire")
	}}
	panicking := &fakeTool{name: "panicking", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		panic("unexpected nil")
	}}
	nilResult := &fakeTool{name: "nil_result", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, nil
	}}
	e := newTestExecutor(t, ExecutorConfig{}, failing, panicking, nilResult)

	res := e.ExecuteSingle(context.Background(), call("c1", "failing", nil))
	assert.False(t, res.Result.Success)
	assert.Equal(t, "Tool execution failed: disk on fire", res.Result.Error)

	res = e.ExecuteSingle(context.Background(), call("c2", "panicking", nil))
	assert.False(t, res.Result.Success)
	assert.Contains(t, res.Result.Error, "unexpected nil")

	res = e.ExecuteSingle(context.Background(), call("c3", "nil_result", nil))
	assert.False(t, res.Result.Success)
	assert.Contains(t, res.Result.Error, "returned no result")
}

func TestExecuteSingleTruncatesOutput(t *testing.T) {
	big := &fakeTool{name: "big", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return Ok(strings.Repeat("x", 150)), nil
	}}
	e := newTestExecutor(t, ExecutorConfig{OutputLimit: 100}, big)

	res := e.ExecuteSingle(context.Background(), call("c1", "big", nil))

	require.True(t, res.Result.Success)
	assert.True(t, strings.HasPrefix(res.Result.Content, strings.Repeat("x", 100)))
	assert.True(t, strings.HasSuffix(res.Result.Content, "\n...[truncated, total 150 chars]"))
}

func TestExecuteSingleDoesNotTruncateErrors(t *testing.T) {
	failing := &fakeTool{name: "failing", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return Fail(strings.Repeat("e", 150)), nil
	}}
	e := newTestExecutor(t, ExecutorConfig{OutputLimit: 100}, failing)

	res := e.ExecuteSingle(context.Background(), call("c1", "failing", nil))
	assert.Len(t, res.Result.Error, 150)
}

func TestExecuteBatchSerialOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	slow := func(name string, delay time.Duration) *fakeTool {
		return &fakeTool{name: name, execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return Ok(name), nil
		}}
	}
	e := newTestExecutor(t, ExecutorConfig{Parallel: false},
		slow("first", 20*time.Millisecond), slow("second", 0))

	results := e.ExecuteBatch(context.Background(),
		[]model.ToolCall{call("c1", "first", nil), call("c2", "second", nil)})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "first", results[0].ToolName)
	assert.Equal(t, "second", results[1].ToolName)
}

func TestExecuteBatchParallelPreservesCallOrder(t *testing.T) {
	slow := &fakeTool{name: "slow", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		time.Sleep(30 * time.Millisecond)
		return Ok("slow done"), nil
	}}
	fast := &fakeTool{name: "fast", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return Ok("fast done"), nil
	}}
	e := newTestExecutor(t, ExecutorConfig{Parallel: true}, slow, fast)

	start := time.Now()
	results := e.ExecuteBatch(context.Background(), []model.ToolCall{
		call("c1", "slow", nil),
		call("c2", "fast", nil),
		call("c3", "slow", nil),
	})
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	// Result order matches call order regardless of completion order.
	assert.Equal(t, "slow", results[0].ToolName)
	assert.Equal(t, "fast", results[1].ToolName)
	assert.Equal(t, "slow", results[2].ToolName)
	// Both slow calls overlapped.
	assert.Less(t, elapsed, 55*time.Millisecond)
}

func TestExecuteBatchEmpty(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{})
	assert.Nil(t, e.ExecuteBatch(context.Background(), nil))
}

func TestExecuteBatchFailuresIsolated(t *testing.T) {
	good := &fakeTool{name: "good", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return Ok("fine"), nil
	}}
	bad := &fakeTool{name: "bad", execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, fmt.Errorf("broken")
	}}
	e := newTestExecutor(t, ExecutorConfig{Parallel: true}, good, bad)

	results := e.ExecuteBatch(context.Background(), []model.ToolCall{
		call("c1", "bad", nil),
		call("c2", "good", nil),
	})

	require.Len(t, results, 2)
	assert.False(t, results[0].Result.Success)
	assert.True(t, results[1].Result.Success)
}
