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
	"sort"
	"strings"
	"sync"
)

// Summarizer condenses long content. The runner wires an LLM-backed one;
// without it a deterministic truncation applies.
type Summarizer func(ctx context.Context, prompt string) (string, error)

// ContextManager coordinates the tool cache, working memory and iteration
// summaries into the context prefix injected at each iteration.
type ContextManager struct {
	cache      *ToolResultCache
	memory     *WorkingMemory
	summarizer Summarizer

	mu        sync.Mutex
	summaries map[int]string
}

// NewContextManager creates a context manager.
func NewContextManager(cache *ToolResultCache, memory *WorkingMemory, summarizer Summarizer) *ContextManager {
	return &ContextManager{
		cache:      cache,
		memory:     memory,
		summarizer: summarizer,
		summaries:  make(map[int]string),
	}
}

// SummarizeToolResult condenses one tool output. Content of 500 chars or
// less passes through unchanged.
func (cm *ContextManager) SummarizeToolResult(ctx context.Context, toolName, content string) string {
	if len(content) <= 500 {
		return content
	}

	if cm.summarizer != nil {
		prompt := fmt.Sprintf("Summarize this %s result concisely:\n%s", toolName, head(content, 5000))
		if summary, err := cm.summarizer(ctx, prompt); err == nil && summary != "" {
			return summary
		}
	}

	lines := strings.Split(content, "\n")
	if len(lines) > 20 {
		return fmt.Sprintf("%s\n... (%d more lines)", strings.Join(lines[:10], "\n"), len(lines)-10)
	}
	if len(content) > 1000 {
		return fmt.Sprintf("%s... (%d more chars)", content[:500], len(content)-500)
	}
	return content
}

// ProcessToolResult caches a tool result and returns the summary that
// replaces it in the conversation.
func (cm *ContextManager) ProcessToolResult(ctx context.Context, toolCallID, toolName string, arguments map[string]any, content string, iteration int) string {
	summary := cm.SummarizeToolResult(ctx, toolName, content)
	cm.cache.Store(toolCallID, toolName, arguments, content, summary, iteration)
	return summary
}

// SummarizeIteration records a summary of one finished iteration.
func (cm *ContextManager) SummarizeIteration(ctx context.Context, iteration int, messagesContent string) string {
	var summary string
	if cm.summarizer != nil {
		prompt := fmt.Sprintf("Summarize iteration %d progress:\n%s", iteration, head(messagesContent, 8000))
		if s, err := cm.summarizer(ctx, prompt); err == nil && s != "" {
			summary = s
		}
	}
	if summary == "" {
		summary = fmt.Sprintf("Iteration %d completed. See working memory for details.", iteration)
	}

	cm.mu.Lock()
	cm.summaries[iteration] = summary
	cm.mu.Unlock()
	return summary
}

// BuildContextPrefix renders the per-iteration context block: working
// memory, the last three iteration summaries and the last 10 tool result
// summaries.
func (cm *ContextManager) BuildContextPrefix() string {
	parts := []string{cm.memory.ToContextString()}

	cm.mu.Lock()
	iterations := make([]int, 0, len(cm.summaries))
	for iteration := range cm.summaries {
		iterations = append(iterations, iteration)
	}
	sort.Ints(iterations)
	if len(iterations) > 3 {
		iterations = iterations[len(iterations)-3:]
	}
	if len(iterations) > 0 {
		parts = append(parts, "\n## Previous Iterations")
		for _, iteration := range iterations {
			parts = append(parts, fmt.Sprintf("\n### Iteration %d\n%s", iteration, cm.summaries[iteration]))
		}
	}
	cm.mu.Unlock()

	if recent := cm.cache.Recent(10); len(recent) > 0 {
		parts = append(parts, "\n## Recent Tool Results (Summaries)")
		for _, result := range recent {
			summary := result.Summary
			suffix := ""
			if len(summary) > 200 {
				summary = summary[:200]
				suffix = "..."
			}
			parts = append(parts, fmt.Sprintf("\n- [%s] %s%s", result.ToolName, summary, suffix))
		}
	}

	return strings.Join(parts, "\n")
}

// FullToolResult retrieves the cached full content for a tool call.
func (cm *ContextManager) FullToolResult(toolCallID string) (string, bool) {
	return cm.cache.GetFullContent(toolCallID)
}

// Clear drops cached results and iteration summaries.
func (cm *ContextManager) Clear() {
	cm.cache.Clear()
	cm.mu.Lock()
	cm.summaries = make(map[int]string)
	cm.mu.Unlock()
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
