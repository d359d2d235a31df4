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

package ralph

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/omni/pkg/tool"
)

// Reserved ralph tool names.
const (
	GetCachedResultToolName     = "get_cached_result"
	UpdateWorkingMemoryToolName = "update_working_memory"
	GetWorkingMemoryToolName    = "get_working_memory"
	SignalCompletionToolName    = "signal_completion"
)

// Tools returns the ralph tool set bound to a loop's components.
func Tools(cm *ContextManager, memory *WorkingMemory) []tool.Tool {
	return []tool.Tool{
		&getCachedResultTool{cm: cm},
		&updateWorkingMemoryTool{memory: memory},
		&getWorkingMemoryTool{memory: memory},
		&signalCompletionTool{},
	}
}

type getCachedResultTool struct {
	cm *ContextManager
}

var _ tool.Tool = (*getCachedResultTool)(nil)

func (t *getCachedResultTool) Name() string { return GetCachedResultToolName }

func (t *getCachedResultTool) Description() string {
	return "Retrieve the full content of a previously executed tool result. " +
		"Use this when you need complete details that were summarized earlier. " +
		"Provide the tool_call_id from the original execution."
}

func (t *getCachedResultTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool_call_id": map[string]any{
				"type":        "string",
				"description": "The ID of the tool call to retrieve full result for",
			},
		},
		"required": []string{"tool_call_id"},
	}
}

func (t *getCachedResultTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	toolCallID, _ := args["tool_call_id"].(string)
	content, ok := t.cm.FullToolResult(toolCallID)
	if !ok {
		return tool.Fail("No cached result found for tool_call_id: " + toolCallID), nil
	}
	return tool.Ok(content), nil
}

type updateWorkingMemoryTool struct {
	memory *WorkingMemory
}

var _ tool.Tool = (*updateWorkingMemoryTool)(nil)

func (t *updateWorkingMemoryTool) Name() string { return UpdateWorkingMemoryToolName }

func (t *updateWorkingMemoryTool) Description() string {
	return "Update the working memory with progress, findings, decisions, or todos. " +
		"This persists information across Ralph iterations."
}

func (t *updateWorkingMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"add_progress", "add_finding", "add_todo", "complete_todo", "add_decision", "add_error"},
				"description": "The type of memory update to perform",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to add (description, finding, task, or error message)",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "For decisions, the reasoning behind the decision",
			},
			"todo_key": map[string]any{
				"type":        "string",
				"description": "For complete_todo action, the key of the todo to mark complete",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "For errors, additional context about the error",
			},
		},
		"required": []string{"action", "content"},
	}
}

func (t *updateWorkingMemoryTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	action, _ := args["action"].(string)
	content, _ := args["content"].(string)

	switch action {
	case "add_progress":
		if err := t.memory.AddProgress(content); err != nil {
			return nil, err
		}
		return tool.Ok("Progress recorded"), nil

	case "add_finding":
		if err := t.memory.AddFinding(content); err != nil {
			return nil, err
		}
		return tool.Ok("Finding recorded"), nil

	case "add_todo":
		key, err := t.memory.AddTodo(content)
		if err != nil {
			return nil, err
		}
		return tool.Ok("Todo added with key: " + key), nil

	case "complete_todo":
		key, _ := args["todo_key"].(string)
		if key == "" {
			return tool.Fail("todo_key is required for complete_todo action"), nil
		}
		done, err := t.memory.CompleteTodo(key)
		if err != nil {
			return nil, err
		}
		if !done {
			return tool.Fail(fmt.Sprintf("Todo %s not found", key)), nil
		}
		return tool.Ok(fmt.Sprintf("Todo %s marked complete", key)), nil

	case "add_decision":
		reason, _ := args["reason"].(string)
		if reason == "" {
			return tool.Fail("reason is required for add_decision action"), nil
		}
		if err := t.memory.AddDecision(content, reason); err != nil {
			return nil, err
		}
		return tool.Ok("Decision recorded"), nil

	case "add_error":
		errContext, _ := args["context"].(string)
		if err := t.memory.AddError(content, errContext); err != nil {
			return nil, err
		}
		return tool.Ok("Error recorded"), nil

	default:
		return tool.Fail("Unknown action: " + action), nil
	}
}

type getWorkingMemoryTool struct {
	memory *WorkingMemory
}

var _ tool.Tool = (*getWorkingMemoryTool)(nil)

func (t *getWorkingMemoryTool) Name() string { return GetWorkingMemoryToolName }

func (t *getWorkingMemoryTool) Description() string {
	return "Retrieve the current working memory summary including progress, " +
		"findings, pending todos, and any errors from previous iterations."
}

func (t *getWorkingMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{
				"type":        "string",
				"enum":        []string{"all", "progress", "findings", "todo", "decisions", "errors"},
				"description": "Filter memory by category, or 'all' for full summary",
			},
		},
		"required": []string{},
	}
}

func (t *getWorkingMemoryTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	category, _ := args["category"].(string)
	if category == "" || category == "all" {
		return tool.Ok(t.memory.ToContextString()), nil
	}

	switch category {
	case CategoryProgress, CategoryFindings, CategoryTodo, CategoryDecisions, CategoryErrors:
	default:
		return tool.Fail("Unknown category: " + category), nil
	}

	entries := t.memory.ByCategory(category)
	if len(entries) == 0 {
		return tool.Ok(fmt.Sprintf("No %s entries found", category)), nil
	}

	lines := []string{fmt.Sprintf("## %s (%d entries)", strings.ToUpper(category[:1])+category[1:], len(entries))}
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("- [%d] %v", entry.Iteration, entry.Value))
	}
	return tool.Ok(strings.Join(lines, "\n")), nil
}

type signalCompletionTool struct{}

var _ tool.Tool = (*signalCompletionTool)(nil)
var _ tool.Instructed = (*signalCompletionTool)(nil)

func (t *signalCompletionTool) Name() string { return SignalCompletionToolName }

func (t *signalCompletionTool) Description() string {
	return "Signal that the Ralph loop task is complete. " +
		"Use this when you have finished the assigned task and verified the results."
}

func (t *signalCompletionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "Brief summary of what was accomplished",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Confidence level (0-1) that the task is truly complete",
				"minimum":     0,
				"maximum":     1,
			},
		},
		"required": []string{"summary"},
	}
}

func (t *signalCompletionTool) Instructions() string {
	return "When using signal_completion:\n" +
		"- Only call this when you are confident the task is fully complete\n" +
		"- Include a summary of what was accomplished\n" +
		"- The output will contain a <promise>TASK COMPLETE</promise> tag"
}

func (t *signalCompletionTool) AddInstructionsToPrompt() bool { return true }

func (t *signalCompletionTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	summary, _ := args["summary"].(string)
	confidence, ok := args["confidence"].(float64)
	if !ok {
		confidence = 1.0
	}
	return tool.Ok(fmt.Sprintf("Task Summary: %s\nConfidence: %g\n<promise>TASK COMPLETE</promise>", summary, confidence)), nil
}
