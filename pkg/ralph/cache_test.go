package ralph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStoreAndGet(t *testing.T) {
	c := NewToolResultCache(10)
	c.Store("call_1", "grep", map[string]any{"pattern": "foo"}, "full output", "short summary", 1)

	summary, ok := c.GetSummary("call_1")
	require.True(t, ok)
	assert.Equal(t, "short summary", summary)

	full, ok := c.GetFullContent("call_1")
	require.True(t, ok)
	assert.Equal(t, "full output", full)

	_, ok = c.GetSummary("call_missing")
	assert.False(t, ok)
	_, ok = c.GetFullContent("call_missing")
	assert.False(t, ok)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewToolResultCache(2)
	c.Store("a", "grep", nil, "a-full", "a", 1)
	c.Store("b", "grep", nil, "b-full", "b", 1)
	c.Store("c", "grep", nil, "c-full", "c", 1)

	_, ok := c.GetSummary("a")
	assert.False(t, ok, "oldest entry is evicted")
	_, ok = c.GetSummary("b")
	assert.True(t, ok)
	_, ok = c.GetSummary("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCacheFullContentReadTouchesRecency(t *testing.T) {
	c := NewToolResultCache(2)
	c.Store("a", "grep", nil, "a-full", "a", 1)
	c.Store("b", "grep", nil, "b-full", "b", 1)

	_, ok := c.GetFullContent("a")
	require.True(t, ok)
	c.Store("c", "grep", nil, "c-full", "c", 1)

	_, ok = c.GetSummary("a")
	assert.True(t, ok, "a was touched and survives")
	_, ok = c.GetSummary("b")
	assert.False(t, ok, "b became the least recently used")
}

func TestCacheSummaryReadDoesNotTouch(t *testing.T) {
	c := NewToolResultCache(2)
	c.Store("a", "grep", nil, "a-full", "a", 1)
	c.Store("b", "grep", nil, "b-full", "b", 1)

	_, ok := c.GetSummary("a")
	require.True(t, ok)
	c.Store("c", "grep", nil, "c-full", "c", 1)

	_, ok = c.GetSummary("a")
	assert.False(t, ok, "summary reads leave recency unchanged")
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewToolResultCache(2)
	c.Store("a", "grep", nil, "a-full", "a", 1)
	c.Store("b", "grep", nil, "b-full", "b", 1)
	c.Store("a", "grep", nil, "a-full-v2", "a2", 2)

	assert.Equal(t, 2, c.Len())
	full, ok := c.GetFullContent("a")
	require.True(t, ok)
	assert.Equal(t, "a-full-v2", full)
	_, ok = c.GetSummary("b")
	assert.True(t, ok)
}

func TestCacheRecent(t *testing.T) {
	c := NewToolResultCache(10)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("call_%d", i)
		c.Store(id, "grep", nil, "full", id, 1)
	}

	recent := c.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "call_3", recent[0].ToolCallID)
	assert.Equal(t, "call_5", recent[2].ToolCallID)

	all := c.Recent(100)
	assert.Len(t, all, 5)
}

func TestCacheClear(t *testing.T) {
	c := NewToolResultCache(10)
	c.Store("a", "grep", nil, "full", "a", 1)
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Recent(10))
	_, ok := c.GetSummary("a")
	assert.False(t, ok)
}

func TestCacheDefaultSize(t *testing.T) {
	c := NewToolResultCache(0)
	for i := 0; i < DefaultCacheSize+5; i++ {
		c.Store(fmt.Sprintf("call_%d", i), "grep", nil, "full", "s", 1)
	}
	assert.Equal(t, DefaultCacheSize, c.Len())
}
