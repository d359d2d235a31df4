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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kadirpekel/omni/pkg/checkpoint"
	"github.com/kadirpekel/omni/pkg/event"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/token"
	"github.com/kadirpekel/omni/pkg/tool"
)

// Terminal error reasons surfaced in Error events.
const (
	ReasonMaxSteps   = "max_steps_reached"
	ReasonLLMFailure = "llm_failure"
)

// DefaultMaxSteps bounds a run when the config leaves MaxSteps zero.
const DefaultMaxSteps = 50

// LoopConfig configures a Loop.
type LoopConfig struct {
	// AgentID identifies the agent in checkpoints.
	AgentID string

	// MaxSteps bounds the run. Zero selects DefaultMaxSteps.
	MaxSteps int

	// Checkpoint controls when snapshots are persisted; ignored when
	// Store is nil.
	Checkpoint checkpoint.Config
	Store      checkpoint.Store

	// Metadata is forwarded to every LLM call (trace ids, session ids).
	Metadata llm.Metadata

	// OnToolResult intercepts every tool execution result, in call order.
	// A non-empty return replaces the tool message content seen by the
	// model; the original result is untouched. Ralph uses this to cache
	// full outputs and surface summaries.
	OnToolResult func(tool.ExecutionResult) string
}

// Loop drives the event-emitting step state machine over one State.
//
// The loop is a sequential machine: suspension points are the LLM call,
// tool executions, checkpoint writes and event handlers. It owns the state
// for the duration of a run.
type Loop struct {
	client   llm.Client
	tools    []tool.Tool
	executor *tool.Executor
	tokens   *token.Manager
	emitter  *event.Emitter
	hooks    *HookManager
	state    *State
	cfg      LoopConfig
}

// NewLoop assembles a loop from its collaborators.
func NewLoop(client llm.Client, tools []tool.Tool, executor *tool.Executor,
	tokens *token.Manager, emitter *event.Emitter, hooks *HookManager,
	state *State, cfg LoopConfig) (*Loop, error) {

	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if state == nil {
		return nil, fmt.Errorf("state is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	state.MaxSteps = cfg.MaxSteps
	if emitter == nil {
		emitter = event.NewEmitter()
	}
	if hooks == nil {
		hooks = NewHookManager()
	}
	return &Loop{
		client:   client,
		tools:    tools,
		executor: executor,
		tokens:   tokens,
		emitter:  emitter,
		hooks:    hooks,
		state:    state,
		cfg:      cfg,
	}, nil
}

// State exposes the loop's state for inspection between runs.
func (l *Loop) State() *State { return l.state }

// Emitter exposes the loop's emitter for handler registration.
func (l *Loop) Emitter() *event.Emitter { return l.emitter }

// Run drives steps until completion, pause, error or step exhaustion.
//
// The returned string is the assistant's final text on success, the
// "Waiting for user input" sentinel on pause, or a human-readable error
// string ("LLM call failed: ...", "Task couldn't be completed after N
// steps."). The error return is reserved for infrastructure failures that
// must not be swallowed: checkpoint writes and event handlers.
func (l *Loop) Run(ctx context.Context) (string, error) {
	l.state.ResetForRun()
	if err := l.hooks.BeforeRun(ctx, l.state); err != nil {
		return "", fmt.Errorf("before-run hook failed: %w", err)
	}
	return l.runSteps(ctx)
}

// Resume continues a run without resetting state: after ProvideUserInput,
// or after reconstructing state from a checkpoint.
func (l *Loop) Resume(ctx context.Context) (string, error) {
	if l.state.Status == StatusIdle {
		l.state.Status = StatusRunning
	}
	if l.state.Status != StatusRunning {
		return "", fmt.Errorf("cannot resume from status %s", l.state.Status)
	}
	return l.runSteps(ctx)
}

func (l *Loop) runSteps(ctx context.Context) (string, error) {
	for l.state.CanContinue() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		l.state.IncrementStep()

		result, done, err := l.executeStep(ctx)
		if err != nil {
			return "", err
		}
		if done {
			success := l.state.Status == StatusCompleted
			if l.state.Status != StatusWaitingInput {
				if err := l.hooks.AfterRun(ctx, l.state, result, success); err != nil {
					return result, fmt.Errorf("after-run hook failed: %w", err)
				}
			}
			return result, nil
		}
	}

	msg := maxStepsMessage(l.state.MaxSteps)
	l.state.MarkError(msg)
	if err := l.emitter.Emit(event.New(event.Error, l.state.CurrentStep, map[string]any{
		"reason":              ReasonMaxSteps,
		"message":             msg,
		"total_steps":         l.state.CurrentStep,
		"total_input_tokens":  l.state.TotalInputTokens,
		"total_output_tokens": l.state.TotalOutputTokens,
	})); err != nil {
		return "", err
	}
	if err := l.hooks.AfterRun(ctx, l.state, msg, false); err != nil {
		return msg, fmt.Errorf("after-run hook failed: %w", err)
	}
	return msg, nil
}

func maxStepsMessage(maxSteps int) string {
	return fmt.Sprintf("Task couldn't be completed after %d steps.", maxSteps)
}

// executeStep runs one step of the protocol. done reports run termination
// (completed, waiting for input, or errored); err is infrastructure
// failure only.
func (l *Loop) executeStep(ctx context.Context) (result string, done bool, err error) {
	step := l.state.CurrentStep

	// Compact history before the call when over the limit.
	estimated := 0
	limit := 0
	if l.tokens != nil {
		l.state.Messages = l.tokens.MaybeSummarize(ctx, l.state.Messages)
		estimated = l.tokens.EstimateTokens(l.state.Messages)
		limit = l.tokens.TokenLimit()
	}

	if err := l.emitter.Emit(event.New(event.StepStart, step, map[string]any{
		"step":        step,
		"max_steps":   l.state.MaxSteps,
		"tokens":      estimated,
		"token_limit": limit,
	})); err != nil {
		return "", false, err
	}

	resp, llmErr := l.client.Generate(ctx, l.state.Messages, tool.Definitions(l.tools), l.cfg.Metadata)
	if llmErr != nil {
		msg := "LLM call failed: " + llmErr.Error()
		l.state.MarkError(msg)
		if err := l.emitter.Emit(event.New(event.Error, step, map[string]any{
			"reason":  ReasonLLMFailure,
			"message": msg,
		})); err != nil {
			return "", false, err
		}
		return msg, true, nil
	}

	var usage model.TokenUsage
	if resp.Usage != nil {
		usage = *resp.Usage
	}
	l.state.AddTokens(usage)

	if err := l.emitter.Emit(event.New(event.LLMResponse, step, map[string]any{
		"content":        resp.Content,
		"thinking":       resp.Thinking,
		"has_tool_calls": resp.HasToolCalls(),
		"tool_count":     len(resp.ToolCalls),
		"input_tokens":   usage.Input,
		"output_tokens":  usage.Output,
	})); err != nil {
		return "", false, err
	}

	l.state.Append(model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Content,
		Thinking:  resp.Thinking,
		ToolCalls: resp.ToolCalls,
	})

	if !resp.HasToolCalls() {
		l.state.MarkCompleted()
		if err := l.emitter.Emit(event.New(event.Completion, step, map[string]any{
			"message":             resp.Content,
			"total_steps":         step,
			"total_input_tokens":  l.state.TotalInputTokens,
			"total_output_tokens": l.state.TotalOutputTokens,
		})); err != nil {
			return "", false, err
		}
		return resp.Content, true, nil
	}

	// A user-input request pauses the run; no other call in the batch runs.
	for _, call := range resp.ToolCalls {
		if call.Function.Name != UserInputToolName {
			continue
		}
		req := ParseUserInputRequest(call.Function.Arguments)
		l.state.MarkWaitingInput(req, call.ID)
		if err := l.emitter.Emit(event.New(event.UserInputRequired, step, map[string]any{
			"fields":       req.Fields,
			"context":      req.Context,
			"tool_call_id": call.ID,
		})); err != nil {
			return "", false, err
		}
		if l.checkpointEnabled() && l.cfg.Checkpoint.SaveOnUserInput {
			if err := l.saveCheckpoint(ctx); err != nil {
				return "", false, err
			}
		}
		return WaitingForUserInput, true, nil
	}

	for _, call := range resp.ToolCalls {
		if err := l.emitter.Emit(event.New(event.ToolStart, step, map[string]any{
			"tool":         call.Function.Name,
			"tool_call_id": call.ID,
			"arguments":    call.Function.Arguments,
		})); err != nil {
			return "", false, err
		}
	}

	results := l.executor.ExecuteBatch(ctx, resp.ToolCalls)

	for _, execResult := range results {
		data := map[string]any{
			"tool":         execResult.ToolName,
			"tool_call_id": execResult.ToolCallID,
			"success":      execResult.Result.Success,
			"duration_ms":  execResult.ExecutionTime.Milliseconds(),
		}
		if !execResult.Result.Success {
			data["error"] = execResult.Result.Error
		}
		if err := l.emitter.Emit(event.New(event.ToolEnd, step, data)); err != nil {
			return "", false, err
		}

		content := execResult.Result.Content
		if !execResult.Result.Success {
			content = "Error: " + execResult.Result.Error
		}
		if l.cfg.OnToolResult != nil {
			if replacement := l.cfg.OnToolResult(execResult); replacement != "" {
				content = replacement
			}
		}
		l.state.Append(model.NewToolMessage(execResult.ToolCallID, execResult.ToolName, content))
	}

	stepEnd := event.New(event.StepEnd, step, map[string]any{
		"tools_executed": len(results),
	})
	if err := l.emitter.Emit(stepEnd); err != nil {
		return "", false, err
	}
	if err := l.hooks.OnStep(ctx, l.state, stepEnd); err != nil {
		return "", false, fmt.Errorf("on-step hook failed: %w", err)
	}

	if l.checkpointEnabled() && (l.cfg.Checkpoint.SaveOnToolExecution || l.cfg.Checkpoint.SaveOnStep) {
		if err := l.saveCheckpoint(ctx); err != nil {
			return "", false, err
		}
	}
	return "", false, nil
}

// ProvideUserInput answers a pending get_user_input pause. The values are
// appended as a synthetic tool message linked to the paused tool call, and
// the state re-enters Running; call Resume to continue the run.
func (l *Loop) ProvideUserInput(values map[string]any) error {
	if l.state.Status != StatusWaitingInput {
		return fmt.Errorf("agent is not waiting for user input (status: %s)", l.state.Status)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]map[string]any, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, map[string]any{"name": name, "value": values[name]})
	}
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to encode user input: %w", err)
	}

	l.state.Append(model.NewToolMessage(
		l.state.PausedToolCallID,
		UserInputToolName,
		"User inputs received: "+string(encoded)))
	l.state.ResumeFromInput()

	slog.Debug("User input provided", "fields", names)
	return nil
}

func (l *Loop) checkpointEnabled() bool {
	return l.cfg.Checkpoint.Enabled && l.cfg.Store != nil && l.state.ThreadID != ""
}

// saveCheckpoint persists a snapshot and enforces thread retention.
// Storage errors propagate; silent checkpoint loss is worse than failing
// the run.
func (l *Loop) saveCheckpoint(ctx context.Context) error {
	cp := l.state.ToCheckpoint(l.cfg.AgentID)
	if err := l.cfg.Store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	l.state.LastCheckpointID = cp.ID
	return checkpoint.Prune(ctx, l.cfg.Store, l.state.ThreadID, l.cfg.Checkpoint.MaxCheckpointsPerThread)
}
