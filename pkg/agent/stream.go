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
	"iter"

	"github.com/kadirpekel/omni/pkg/event"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/tool"
)

// Stream event types surfaced to RunStream consumers.
const (
	StreamStep              = "step"
	StreamThinking          = "thinking"
	StreamContent           = "content"
	StreamToolCall          = "tool_call"
	StreamToolResult        = "tool_result"
	StreamUserInputRequired = "user_input_required"
	StreamDone              = "done"
	StreamError             = "error"
)

// StreamEvent is one element of a streaming run.
type StreamEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// RunStream drives the same state machine as Run but yields incremental
// events: token deltas while the model responds, then tool activity, then
// a terminal done or error event. Emitter events fire identically to the
// non-streaming path, so execution logs and hooks observe the same run.
//
// The yielded error is reserved for infrastructure failures (checkpoint
// writes, event handlers); model and tool failures arrive as error events.
func (l *Loop) RunStream(ctx context.Context) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		l.state.ResetForRun()
		if err := l.hooks.BeforeRun(ctx, l.state); err != nil {
			yield(nil, err)
			return
		}

		for l.state.CanContinue() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			l.state.IncrementStep()

			proceed, done := l.streamStep(ctx, yield)
			if !proceed || done {
				return
			}
		}

		msg := maxStepsMessage(l.state.MaxSteps)
		l.state.MarkError(msg)
		if err := l.emitter.Emit(event.New(event.Error, l.state.CurrentStep, map[string]any{
			"reason":  ReasonMaxSteps,
			"message": msg,
		})); err != nil {
			yield(nil, err)
			return
		}
		_ = l.hooks.AfterRun(ctx, l.state, msg, false)
		yield(&StreamEvent{Type: StreamError, Data: map[string]any{
			"reason":  ReasonMaxSteps,
			"message": msg,
		}}, nil)
	}
}

// streamStep executes one streaming step. proceed is false when the
// consumer stopped or an infrastructure error was yielded; done is true
// when the run terminated this step.
func (l *Loop) streamStep(ctx context.Context, yield func(*StreamEvent, error) bool) (proceed, done bool) {
	step := l.state.CurrentStep

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
		yield(nil, err)
		return false, false
	}
	if !yield(&StreamEvent{Type: StreamStep, Data: map[string]any{
		"step":      step,
		"max_steps": l.state.MaxSteps,
	}}, nil) {
		return false, false
	}

	var (
		content   string
		thinking  string
		toolCalls []model.ToolCall
		resp      *model.Response
	)

	for chunk, err := range l.client.GenerateStream(ctx, l.state.Messages, tool.Definitions(l.tools), l.cfg.Metadata) {
		if err != nil {
			msg := "LLM call failed: " + err.Error()
			l.state.MarkError(msg)
			if emitErr := l.emitter.Emit(event.New(event.Error, step, map[string]any{
				"reason":  ReasonLLMFailure,
				"message": msg,
			})); emitErr != nil {
				yield(nil, emitErr)
				return false, false
			}
			yield(&StreamEvent{Type: StreamError, Data: map[string]any{
				"reason":  ReasonLLMFailure,
				"message": msg,
			}}, nil)
			return false, true
		}

		switch chunk.Type {
		case model.ChunkThinkingDelta:
			thinking += chunk.Delta
			if !yield(&StreamEvent{Type: StreamThinking, Data: map[string]any{"delta": chunk.Delta}}, nil) {
				return false, false
			}
		case model.ChunkContentDelta:
			content += chunk.Delta
			if !yield(&StreamEvent{Type: StreamContent, Data: map[string]any{"delta": chunk.Delta}}, nil) {
				return false, false
			}
		case model.ChunkToolUse:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				if !yield(&StreamEvent{Type: StreamToolCall, Data: map[string]any{
					"tool":         chunk.ToolCall.Function.Name,
					"tool_call_id": chunk.ToolCall.ID,
					"arguments":    chunk.ToolCall.Function.Arguments,
				}}, nil) {
					return false, false
				}
			}
		case model.ChunkDone:
			resp = chunk.Response
		}
	}

	// Prefer the adapter's assembled response; fall back to the buffers.
	if resp == nil {
		resp = &model.Response{Content: content, Thinking: thinking, ToolCalls: toolCalls}
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
		yield(nil, err)
		return false, false
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
			yield(nil, err)
			return false, false
		}
		_ = l.hooks.AfterRun(ctx, l.state, resp.Content, true)
		yield(&StreamEvent{Type: StreamDone, Data: map[string]any{
			"message":             resp.Content,
			"total_steps":         step,
			"total_input_tokens":  l.state.TotalInputTokens,
			"total_output_tokens": l.state.TotalOutputTokens,
		}}, nil)
		return false, true
	}

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
			yield(nil, err)
			return false, false
		}
		if l.checkpointEnabled() && l.cfg.Checkpoint.SaveOnUserInput {
			if err := l.saveCheckpoint(ctx); err != nil {
				yield(nil, err)
				return false, false
			}
		}
		yield(&StreamEvent{Type: StreamUserInputRequired, Data: map[string]any{
			"fields":       req.Fields,
			"context":      req.Context,
			"tool_call_id": call.ID,
		}}, nil)
		return false, true
	}

	for _, call := range resp.ToolCalls {
		if err := l.emitter.Emit(event.New(event.ToolStart, step, map[string]any{
			"tool":         call.Function.Name,
			"tool_call_id": call.ID,
			"arguments":    call.Function.Arguments,
		})); err != nil {
			yield(nil, err)
			return false, false
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
			yield(nil, err)
			return false, false
		}

		msgContent := execResult.Result.Content
		if !execResult.Result.Success {
			msgContent = "Error: " + execResult.Result.Error
		}
		if l.cfg.OnToolResult != nil {
			if replacement := l.cfg.OnToolResult(execResult); replacement != "" {
				msgContent = replacement
			}
		}
		l.state.Append(model.NewToolMessage(execResult.ToolCallID, execResult.ToolName, msgContent))

		if !yield(&StreamEvent{Type: StreamToolResult, Data: map[string]any{
			"tool":         execResult.ToolName,
			"tool_call_id": execResult.ToolCallID,
			"success":      execResult.Result.Success,
			"content":      msgContent,
		}}, nil) {
			return false, false
		}
	}

	stepEnd := event.New(event.StepEnd, step, map[string]any{"tools_executed": len(results)})
	if err := l.emitter.Emit(stepEnd); err != nil {
		yield(nil, err)
		return false, false
	}
	if err := l.hooks.OnStep(ctx, l.state, stepEnd); err != nil {
		yield(nil, err)
		return false, false
	}
	if l.checkpointEnabled() && (l.cfg.Checkpoint.SaveOnToolExecution || l.cfg.Checkpoint.SaveOnStep) {
		if err := l.saveCheckpoint(ctx); err != nil {
			yield(nil, err)
			return false, false
		}
	}
	return true, false
}
