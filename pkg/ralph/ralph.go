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

// Package ralph implements the iterative self-improvement loop: the same
// task is re-run against a fresh conversation each iteration, with working
// memory, cached tool results and iteration summaries carried across
// iterations until a completion condition fires.
package ralph

// Completion conditions.
type Condition string

const (
	ConditionPromiseTag    Condition = "promise_tag"
	ConditionMaxIterations Condition = "max_iterations"
	ConditionIdleThreshold Condition = "idle_threshold"
)

// Defaults.
const (
	DefaultMaxIterations     = 20
	DefaultCompletionPromise = "TASK COMPLETE"
	DefaultIdleThreshold     = 3
	DefaultMemoryDir         = ".ralph"
	DefaultCacheSize         = 100
)

// Config configures a ralph Runner.
type Config struct {
	// MaxIterations bounds the loop. Zero selects DefaultMaxIterations.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// CompletionPromise is the text matched inside <promise> tags.
	CompletionPromise string `json:"completion_promise" yaml:"completion_promise"`

	// IdleThreshold is the number of consecutive iterations with an
	// unchanged modified-file set before the loop stops.
	IdleThreshold int `json:"idle_threshold" yaml:"idle_threshold"`

	// MemoryDir is the working-memory directory inside the workspace.
	MemoryDir string `json:"memory_dir" yaml:"memory_dir"`

	// CacheSize bounds the tool result cache.
	CacheSize int `json:"cache_size" yaml:"cache_size"`

	// Conditions selects the active completion checks. Empty enables all.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.CompletionPromise == "" {
		c.CompletionPromise = DefaultCompletionPromise
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.MemoryDir == "" {
		c.MemoryDir = DefaultMemoryDir
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if len(c.Conditions) == 0 {
		c.Conditions = []Condition{
			ConditionPromiseTag,
			ConditionMaxIterations,
			ConditionIdleThreshold,
		}
	}
	return c
}

func (c Config) hasCondition(cond Condition) bool {
	for _, existing := range c.Conditions {
		if existing == cond {
			return true
		}
	}
	return false
}
