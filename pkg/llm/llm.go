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

// Package llm defines the client capability the runtime consumes to talk to
// language models. Wire adapters (Anthropic, OpenAI, local runtimes) live
// outside the core; the loop only depends on this interface.
package llm

import (
	"context"
	"iter"

	"github.com/kadirpekel/omni/pkg/model"
)

// ToolDefinition is the schema form of a tool as presented to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"input_schema"`
}

// Metadata carries per-call annotations such as trace ids or session ids.
// Adapters may forward entries they understand and ignore the rest.
type Metadata map[string]any

// Client generates model responses for a conversation.
//
// Generate blocks until the full response is available. GenerateStream
// yields incremental chunks; the terminal ChunkDone carries the complete
// Response including usage. Both honor context cancellation.
type Client interface {
	Generate(ctx context.Context, messages []model.Message, tools []ToolDefinition, metadata Metadata) (*model.Response, error)
	GenerateStream(ctx context.Context, messages []model.Message, tools []ToolDefinition, metadata Metadata) iter.Seq2[*model.StreamChunk, error]
}
