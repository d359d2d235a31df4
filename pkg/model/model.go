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

// Package model defines the canonical conversation data model shared by the
// agent loop, tools, checkpoints and LLM adapters: messages, tool calls,
// responses, streaming chunks and token usage counters.
package model

import "encoding/json"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation entry. Messages are immutable once
// appended to a conversation; order defines causality.
type Message struct {
	Role Role `json:"role"`

	// Content is the textual payload. Structured content blocks from
	// multimodal adapters are flattened to text before reaching the core.
	Content string `json:"content"`

	// Thinking carries extended reasoning emitted by models that support it.
	Thinking string `json:"thinking,omitempty"`

	// ToolCalls is set on assistant messages requesting tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message back to the assistant request.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name on tool messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is an LLM request to invoke a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its decoded arguments.
// ArgumentsRaw preserves the wire form when the adapter could not decode it;
// ParseError records the decode failure so the loop can surface it to the
// model instead of dropping the call.
type FunctionCall struct {
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	ArgumentsRaw string         `json:"arguments_raw,omitempty"`
	ParseError   string         `json:"parse_error,omitempty"`
}

// TokenUsage accumulates per-call token counters.
type TokenUsage struct {
	Input              int `json:"input"`
	Output             int `json:"output"`
	CacheCreationInput int `json:"cache_creation_input,omitempty"`
	CacheReadInput     int `json:"cache_read_input,omitempty"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheCreationInput += other.CacheCreationInput
	u.CacheReadInput += other.CacheReadInput
}

// Response is a complete LLM reply.
type Response struct {
	Content      string      `json:"content"`
	Thinking     string      `json:"thinking,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// HasToolCalls reports whether the response requests tool invocations.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// StreamChunkType enumerates the incremental events an LLM adapter yields.
type StreamChunkType string

const (
	ChunkThinkingDelta StreamChunkType = "thinking_delta"
	ChunkContentDelta  StreamChunkType = "content_delta"
	ChunkToolUse       StreamChunkType = "tool_use"
	ChunkDone          StreamChunkType = "done"
)

// StreamChunk is one element of a streaming LLM reply. The final ChunkDone
// carries the assembled Response including usage.
type StreamChunk struct {
	Type     StreamChunkType `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Response *Response       `json:"response,omitempty"`
}

// NewSystemMessage returns a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage returns a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage returns an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage returns a tool message linked to a tool call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, Name: name}
}

// CloneMessages returns a deep copy of a message slice. Checkpoints snapshot
// conversations through this to stay isolated from the running loop.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if len(messages[i].ToolCalls) > 0 {
			out[i].ToolCalls = make([]ToolCall, len(messages[i].ToolCalls))
			copy(out[i].ToolCalls, messages[i].ToolCalls)
			for j := range out[i].ToolCalls {
				out[i].ToolCalls[j].Function.Arguments = cloneArgs(messages[i].ToolCalls[j].Function.Arguments)
			}
		}
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	// JSON round-trip keeps nested values independent of the source map.
	data, err := json.Marshal(args)
	if err != nil {
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
