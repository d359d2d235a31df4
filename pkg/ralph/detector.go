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
	"fmt"
	"regexp"
	"strings"
)

var promisePattern = regexp.MustCompile(`(?is)<promise>(.*?)</promise>`)

// CompletionResult reports the outcome of a completion check.
type CompletionResult struct {
	Completed bool
	Reason    Condition
	Message   string
}

// Detector evaluates the configured completion conditions against each
// iteration's final assistant message and file modifications.
type Detector struct {
	cfg               Config
	idleCount         int
	lastFilesModified map[string]bool
}

// NewDetector creates a detector for a normalized config.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:               cfg.withDefaults(),
		lastFilesModified: make(map[string]bool),
	}
}

// Check evaluates the conditions in a fixed order: promise tag, max
// iterations, idle threshold.
func (d *Detector) Check(content string, iteration int, filesModified map[string]bool) CompletionResult {
	if d.cfg.hasCondition(ConditionPromiseTag) {
		if match := promisePattern.FindStringSubmatch(content); match != nil {
			promise := strings.TrimSpace(match[1])
			if strings.Contains(strings.ToLower(promise), strings.ToLower(d.cfg.CompletionPromise)) {
				return CompletionResult{
					Completed: true,
					Reason:    ConditionPromiseTag,
					Message:   "Completion promise detected: " + promise,
				}
			}
		}
	}

	if d.cfg.hasCondition(ConditionMaxIterations) && iteration >= d.cfg.MaxIterations {
		return CompletionResult{
			Completed: true,
			Reason:    ConditionMaxIterations,
			Message:   fmt.Sprintf("Max iterations (%d) reached", d.cfg.MaxIterations),
		}
	}

	if d.cfg.hasCondition(ConditionIdleThreshold) {
		if sameFileSet(filesModified, d.lastFilesModified) {
			d.idleCount++
		} else {
			d.idleCount = 0
			d.lastFilesModified = filesModified
		}
		if d.idleCount >= d.cfg.IdleThreshold {
			return CompletionResult{
				Completed: true,
				Reason:    ConditionIdleThreshold,
				Message:   fmt.Sprintf("No file changes for %d iterations", d.idleCount),
			}
		}
	}

	return CompletionResult{}
}

// Reset clears the idle tracking between runs.
func (d *Detector) Reset() {
	d.idleCount = 0
	d.lastFilesModified = make(map[string]bool)
}

func sameFileSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for path := range a {
		if !b[path] {
			return false
		}
	}
	return true
}
