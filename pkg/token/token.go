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

// Package token provides approximate token counting and iterative
// conversation summarization for keeping long-running agent histories
// under the model context limit.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
)

// DefaultTokenLimit matches a 200k-context model with headroom.
const DefaultTokenLimit = 120000

// perMessageOverhead approximates role and framing tokens per message.
const perMessageOverhead = 4

// Config configures a Manager.
type Config struct {
	// TokenLimit is the threshold above which MaybeSummarize compacts the
	// history. Zero selects DefaultTokenLimit.
	TokenLimit int

	// EnableSummarization gates MaybeSummarize; when false it always
	// returns the input unchanged.
	EnableSummarization bool
}

// Manager counts tokens with a BPE encoder and compacts message history by
// summarizing completed execution rounds between user turns.
type Manager struct {
	client              llm.Client
	tokenLimit          int
	enableSummarization bool
	encoding            *tiktoken.Tiktoken
}

// NewManager creates a Manager. The cl100k_base encoder is used for
// counting; if it cannot be loaded the manager falls back to a
// character-based estimate.
func NewManager(client llm.Client, cfg Config) *Manager {
	limit := cfg.TokenLimit
	if limit <= 0 {
		limit = DefaultTokenLimit
	}

	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("Failed to load cl100k_base encoding, using character estimate", "error", err)
		encoding = nil
	}

	return &Manager{
		client:              client,
		tokenLimit:          limit,
		enableSummarization: cfg.EnableSummarization,
		encoding:            encoding,
	}
}

// TokenLimit returns the configured limit.
func (m *Manager) TokenLimit() int {
	return m.tokenLimit
}

// EstimateTokens approximates the token count of a message history.
// Content, thinking and tool calls are counted, plus a small per-message
// framing overhead.
func (m *Manager) EstimateTokens(messages []model.Message) int {
	if m.encoding == nil {
		return m.estimateFallback(messages)
	}

	total := 0
	for _, msg := range messages {
		total += m.count(msg.Content)
		if msg.Thinking != "" {
			total += m.count(msg.Thinking)
		}
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				total += m.count(string(data))
			}
		}
		total += perMessageOverhead
	}
	return total
}

func (m *Manager) count(text string) int {
	return len(m.encoding.Encode(text, nil, nil))
}

// estimateFallback approximates ~2.5 characters per token.
func (m *Manager) estimateFallback(messages []model.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content) + len(msg.Thinking)
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				chars += len(data)
			}
		}
	}
	return int(float64(chars) / 2.5)
}

// MaybeSummarize compacts the history when it exceeds the token limit.
//
// The system message (index 0) and every user message are preserved in
// order. The span between consecutive user messages is an execution round;
// each round collapses into one synthetic user message carrying an LLM
// generated summary. A failed summary call degrades to a deterministic
// placeholder rather than propagating.
func (m *Manager) MaybeSummarize(ctx context.Context, messages []model.Message) []model.Message {
	if !m.enableSummarization {
		return messages
	}

	estimated := m.EstimateTokens(messages)
	if estimated <= m.tokenLimit {
		return messages
	}

	slog.Info("Token limit exceeded, summarizing message history",
		"estimated", estimated,
		"limit", m.tokenLimit)

	var userIndices []int
	for i, msg := range messages {
		if msg.Role == model.RoleUser && i > 0 {
			userIndices = append(userIndices, i)
		}
	}
	if len(userIndices) == 0 {
		slog.Warn("No user messages to anchor summarization, keeping history")
		return messages
	}

	compacted := []model.Message{messages[0]}
	summaries := 0

	for i, userIdx := range userIndices {
		compacted = append(compacted, messages[userIdx])

		end := len(messages)
		if i < len(userIndices)-1 {
			end = userIndices[i+1]
		}
		round := messages[userIdx+1 : end]
		if len(round) == 0 {
			continue
		}

		summary := m.summarizeRound(ctx, round, i+1)
		if summary != "" {
			compacted = append(compacted, model.NewUserMessage(
				"[Assistant Execution Summary]\n\n"+summary))
			summaries++
		}
	}

	slog.Info("Summarization complete",
		"before_tokens", estimated,
		"after_tokens", m.EstimateTokens(compacted),
		"user_turns", len(userIndices),
		"summaries", summaries)

	return compacted
}

// summarizeRound asks the LLM for a compact summary of one execution round.
func (m *Manager) summarizeRound(ctx context.Context, round []model.Message, roundNum int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d execution process:\n\n", roundNum)
	for _, msg := range round {
		switch msg.Role {
		case model.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
			if len(msg.ToolCalls) > 0 {
				names := make([]string, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					names = append(names, call.Function.Name)
				}
				fmt.Fprintf(&b, "  → Called tools: %s\n", strings.Join(names, ", "))
			}
		case model.RoleTool:
			preview := msg.Content
			if len(preview) > 500 {
				preview = preview[:500] + "..."
			}
			fmt.Fprintf(&b, "  ← Tool returned: %s\n", preview)
		}
	}

	prompt := fmt.Sprintf(`Please provide a concise summary of the following Agent execution process:

%s

Requirements:
1. Focus on what tasks were completed and which tools were called
2. Keep key execution results and important findings
3. Be concise and clear, within 1000 words
4. Use English
5. Do not include "user" related content, only summarize the Agent's execution process`, b.String())

	resp, err := m.client.Generate(ctx, []model.Message{
		model.NewSystemMessage("You are an assistant skilled at summarizing Agent execution processes."),
		model.NewUserMessage(prompt),
	}, nil, nil)
	if err != nil || resp == nil || resp.Content == "" {
		slog.Warn("Summary generation failed, using placeholder", "round", roundNum, "error", err)
		return fmt.Sprintf("Round %d: executed %d steps (summary generation failed)", roundNum, len(round))
	}
	return resp.Content
}
