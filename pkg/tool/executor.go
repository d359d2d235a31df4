// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/omni/pkg/model"
)

// DefaultOutputLimit caps tool output before it enters the conversation.
const DefaultOutputLimit = 10000

// ExecutionResult pairs a tool call with its outcome and timing.
type ExecutionResult struct {
	ToolName      string         `json:"tool_name"`
	ToolCallID    string         `json:"tool_call_id"`
	Result        *Result        `json:"result"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Arguments     map[string]any `json:"arguments"`
}

// ExecutorConfig configures batch execution.
type ExecutorConfig struct {
	// Parallel enables concurrent execution of multi-call batches.
	Parallel bool

	// OutputLimit truncates successful content beyond this many characters.
	// Zero selects DefaultOutputLimit.
	OutputLimit int
}

// Executor dispatches tool calls against a registry.
//
// A single tool's failure never fails the batch: unknown tools and execution
// errors are converted into failed Results in place. Result order always
// matches call order, even under parallel execution.
type Executor struct {
	registry    *Registry
	parallel    bool
	outputLimit int
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	limit := cfg.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &Executor{
		registry:    registry,
		parallel:    cfg.Parallel,
		outputLimit: limit,
	}
}

// ExecuteSingle runs one tool call.
func (e *Executor) ExecuteSingle(ctx context.Context, call model.ToolCall) ExecutionResult {
	start := time.Now()
	name := call.Function.Name
	args := call.Function.Arguments

	t, ok := e.registry.Get(name)
	if !ok {
		return ExecutionResult{
			ToolName:      name,
			ToolCallID:    call.ID,
			Result:        Fail(fmt.Sprintf("Unknown tool: %s", name)),
			ExecutionTime: time.Since(start),
			Arguments:     args,
		}
	}

	result, err := e.invoke(ctx, t, args)
	if err != nil {
		result = Fail(fmt.Sprintf("Tool execution failed: %s", err.Error()))
	}
	if result == nil {
		result = Fail(fmt.Sprintf("Tool execution failed: %s returned no result", name))
	}
	if result.Success {
		result.Content = e.truncate(result.Content)
	}

	elapsed := time.Since(start)
	slog.Debug("Executed tool",
		"tool", name,
		"tool_call_id", call.ID,
		"success", result.Success,
		"duration", elapsed)

	return ExecutionResult{
		ToolName:      name,
		ToolCallID:    call.ID,
		Result:        result,
		ExecutionTime: elapsed,
		Arguments:     args,
	}
}

// ExecuteBatch runs a batch of tool calls and returns results in call order.
// Batches of size one (or serial configuration) run sequentially; larger
// batches fan out concurrently when Parallel is set, joining before return.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []model.ToolCall) []ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]ExecutionResult, len(calls))

	if !e.parallel || len(calls) == 1 {
		for i, call := range calls {
			results[i] = e.ExecuteSingle(ctx, call)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteSingle(gctx, call)
			return nil
		})
	}
	// Workers never return errors; failures live inside each Result.
	_ = g.Wait()
	return results
}

// invoke calls the tool, converting panics into errors so a misbehaving tool
// cannot take down the loop.
func (e *Executor) invoke(ctx context.Context, t Tool, args map[string]any) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return t.Execute(ctx, args)
}

func (e *Executor) truncate(content string) string {
	if len(content) <= e.outputLimit {
		return content
	}
	return content[:e.outputLimit] + fmt.Sprintf("\n...[truncated, total %d chars]", len(content))
}
