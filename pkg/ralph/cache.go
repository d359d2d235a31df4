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
	"sync"
	"time"
)

// CachedToolResult keeps both the full content and the summary of one tool
// execution. The model sees the summary; get_cached_result retrieves the
// full content.
type CachedToolResult struct {
	ToolCallID  string         `json:"tool_call_id"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	FullContent string         `json:"-"`
	Summary     string         `json:"summary"`
	Timestamp   time.Time      `json:"timestamp"`
	Iteration   int            `json:"iteration"`
}

// ToolResultCache is an LRU cache keyed by tool call id. Reading a summary
// does not touch recency; reading full content does.
type ToolResultCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*CachedToolResult
	order   []string
}

// NewToolResultCache creates a cache. size <= 0 selects DefaultCacheSize.
func NewToolResultCache(size int) *ToolResultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &ToolResultCache{
		maxSize: size,
		entries: make(map[string]*CachedToolResult),
	}
}

// Store caches a result, evicting the least recently used entry when full.
func (c *ToolResultCache) Store(toolCallID, toolName string, arguments map[string]any, fullContent, summary string, iteration int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[toolCallID]; !exists && len(c.entries) >= c.maxSize {
		if len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}

	c.entries[toolCallID] = &CachedToolResult{
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		Arguments:   arguments,
		FullContent: fullContent,
		Summary:     summary,
		Timestamp:   time.Now(),
		Iteration:   iteration,
	}
	c.touch(toolCallID)
}

// GetSummary returns the summary without touching recency.
func (c *ToolResultCache) GetSummary(toolCallID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[toolCallID]
	if !ok {
		return "", false
	}
	return entry.Summary, true
}

// GetFullContent returns the full content and marks the entry recently
// used.
func (c *ToolResultCache) GetFullContent(toolCallID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[toolCallID]
	if !ok {
		return "", false
	}
	c.touch(toolCallID)
	return entry.FullContent, true
}

// Recent returns up to n entries in least-to-most recently stored order.
func (c *ToolResultCache) Recent(n int) []*CachedToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if len(c.order) > n {
		start = len(c.order) - n
	}
	results := make([]*CachedToolResult, 0, len(c.order)-start)
	for _, id := range c.order[start:] {
		if entry, ok := c.entries[id]; ok {
			results = append(results, entry)
		}
	}
	return results
}

// Len returns the number of cached entries.
func (c *ToolResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *ToolResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedToolResult)
	c.order = nil
}

func (c *ToolResultCache) touch(toolCallID string) {
	for i, id := range c.order {
		if id == toolCallID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, toolCallID)
}
