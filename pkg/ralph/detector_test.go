package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectorPromiseTag(t *testing.T) {
	d := NewDetector(Config{})

	res := d.Check("Work is done. <promise>TASK COMPLETE</promise>", 1, nil)
	assert.True(t, res.Completed)
	assert.Equal(t, ConditionPromiseTag, res.Reason)
	assert.Contains(t, res.Message, "TASK COMPLETE")
}

func TestDetectorPromiseCaseInsensitive(t *testing.T) {
	d := NewDetector(Config{})

	res := d.Check("<PROMISE>task complete, finally</PROMISE>", 1, nil)
	assert.True(t, res.Completed)
	assert.Equal(t, ConditionPromiseTag, res.Reason)
}

func TestDetectorPromiseSpansLines(t *testing.T) {
	d := NewDetector(Config{})

	res := d.Check("<promise>\nTASK COMPLETE\n</promise>", 1, nil)
	assert.True(t, res.Completed)
}

func TestDetectorPromiseOutsideTagIgnored(t *testing.T) {
	d := NewDetector(Config{})

	res := d.Check("I believe the TASK COMPLETE state is near.", 1, map[string]bool{"a.go": true})
	assert.False(t, res.Completed)
}

func TestDetectorCustomPromise(t *testing.T) {
	d := NewDetector(Config{CompletionPromise: "ALL GREEN"})

	res := d.Check("<promise>ALL GREEN</promise>", 1, nil)
	assert.True(t, res.Completed)

	d = NewDetector(Config{CompletionPromise: "ALL GREEN"})
	res = d.Check("<promise>TASK COMPLETE</promise>", 1, map[string]bool{"a.go": true})
	assert.False(t, res.Completed)
}

func TestDetectorMaxIterations(t *testing.T) {
	d := NewDetector(Config{MaxIterations: 2})

	res := d.Check("still going", 1, map[string]bool{"a.go": true})
	assert.False(t, res.Completed)

	res = d.Check("still going", 2, map[string]bool{"b.go": true})
	assert.True(t, res.Completed)
	assert.Equal(t, ConditionMaxIterations, res.Reason)
	assert.Contains(t, res.Message, "Max iterations (2) reached")
}

func TestDetectorIdleThreshold(t *testing.T) {
	d := NewDetector(Config{IdleThreshold: 3, MaxIterations: 100})
	same := map[string]bool{"main.go": true}

	// The first check against the empty baseline differs, resetting idle.
	res := d.Check("working", 1, same)
	assert.False(t, res.Completed)

	res = d.Check("working", 2, same)
	assert.False(t, res.Completed)
	res = d.Check("working", 3, same)
	assert.False(t, res.Completed)
	res = d.Check("working", 4, same)
	assert.True(t, res.Completed)
	assert.Equal(t, ConditionIdleThreshold, res.Reason)
	assert.Contains(t, res.Message, "No file changes for 3 iterations")
}

func TestDetectorIdleResetOnChange(t *testing.T) {
	d := NewDetector(Config{IdleThreshold: 2, MaxIterations: 100})

	d.Check("working", 1, map[string]bool{"a.go": true})
	d.Check("working", 2, map[string]bool{"a.go": true})
	// New file set resets the idle counter.
	res := d.Check("working", 3, map[string]bool{"b.go": true})
	assert.False(t, res.Completed)
	res = d.Check("working", 4, map[string]bool{"b.go": true})
	assert.False(t, res.Completed)
	res = d.Check("working", 5, map[string]bool{"b.go": true})
	assert.True(t, res.Completed)
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(Config{IdleThreshold: 2, MaxIterations: 100})
	same := map[string]bool{"a.go": true}

	d.Check("working", 1, same)
	d.Check("working", 2, same)
	d.Reset()

	res := d.Check("working", 3, same)
	assert.False(t, res.Completed, "idle count starts over after Reset")
}

func TestDetectorDisabledConditions(t *testing.T) {
	d := NewDetector(Config{
		MaxIterations: 1,
		Conditions:    []Condition{ConditionPromiseTag},
	})

	res := d.Check("no promise here", 50, nil)
	assert.False(t, res.Completed, "only the promise condition is active")
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultCompletionPromise, cfg.CompletionPromise)
	assert.Equal(t, DefaultIdleThreshold, cfg.IdleThreshold)
	assert.Equal(t, DefaultMemoryDir, cfg.MemoryDir)
	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
	assert.Len(t, cfg.Conditions, 3)
}
