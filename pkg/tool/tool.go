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

// Package tool defines the capability contract for tools that agents can
// invoke, plus the batch executor that dispatches tool calls.
//
// A Tool is a named callable with a JSON Schema describing its arguments.
// Execution never panics across the boundary: failures are captured into
// Result with Success=false so the agent can observe and recover.
//
// Certain tool names carry special loop semantics (get_user_input,
// get_skill, get_cached_result, update_working_memory, spawn_agent, the
// team delegation tools). Reusing those names alters control flow.
package tool

import (
	"context"

	"github.com/kadirpekel/omni/pkg/llm"
)

// Tool is the capability contract every tool implements.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Description explains what the tool does. Shown to the LLM so it can
	// decide when to invoke the tool.
	Description() string

	// Parameters returns the JSON Schema object for the tool's arguments.
	Parameters() map[string]any

	// Execute runs the tool with the given argument mapping. Errors are
	// returned, never panicked; the executor converts them into failed
	// Results.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Instructed is an optional extension for tools that contribute usage
// guidance to the system prompt.
type Instructed interface {
	// Instructions returns in-prompt guidance for using the tool.
	Instructions() string

	// AddInstructionsToPrompt reports whether the guidance should be
	// injected into the system prompt.
	AddInstructionsToPrompt() bool
}

// Result is the outcome of a single tool invocation.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Ok returns a successful result with the given content.
func Ok(content string) *Result {
	return &Result{Success: true, Content: content}
}

// Fail returns a failed result with the given error text.
func Fail(errText string) *Result {
	return &Result{Success: false, Error: errText}
}

// ToDefinition converts a tool to the schema form presented to the model.
func ToDefinition(t Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// Definitions converts a tool slice to schema form, preserving order.
func Definitions(tools []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToDefinition(t))
	}
	return defs
}

// FilterByName returns the tools whose names appear in allowed, preserving
// the order of the input slice. Unknown names are ignored.
func FilterByName(tools []Tool, allowed []string) []Tool {
	want := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		want[name] = true
	}
	var out []Tool
	for _, t := range tools {
		if want[t.Name()] {
			out = append(out, t)
		}
	}
	return out
}

// PromptInstructions collects instruction blocks from tools that opt in,
// preserving tool order.
func PromptInstructions(tools []Tool) []string {
	var out []string
	for _, t := range tools {
		if inst, ok := t.(Instructed); ok && inst.AddInstructionsToPrompt() {
			if text := inst.Instructions(); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}
