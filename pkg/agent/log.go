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

package agent

import (
	"time"

	"github.com/kadirpekel/omni/pkg/event"
)

// LogEntry is one chronological record of a run. The sequence of a
// terminated run always ends with a completion, max_steps_reached or error
// entry.
type LogEntry struct {
	Type      string         `json:"type"`
	Step      int            `json:"step"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// executionLog accumulates loop events into a chronological record callers
// retrieve after Run.
type executionLog struct {
	entries []LogEntry
}

// attach subscribes the log to the emitter's lifecycle events.
func (l *executionLog) attach(emitter *event.Emitter) {
	emitter.On(event.StepStart, func(ev *event.Event) error {
		l.append("step", ev)
		return nil
	})
	emitter.On(event.ToolEnd, func(ev *event.Event) error {
		l.append("tool_call", ev)
		return nil
	})
	emitter.On(event.UserInputRequired, func(ev *event.Event) error {
		l.append("user_input_required", ev)
		return nil
	})
	emitter.On(event.TokenSummary, func(ev *event.Event) error {
		l.append("token_summary", ev)
		return nil
	})
	emitter.On(event.Completion, func(ev *event.Event) error {
		l.append("completion", ev)
		return nil
	})
	emitter.On(event.Error, func(ev *event.Event) error {
		entryType := "error"
		if reason, ok := ev.Data["reason"].(string); ok && reason == ReasonMaxSteps {
			entryType = "max_steps_reached"
		}
		l.append(entryType, ev)
		return nil
	})
}

func (l *executionLog) append(entryType string, ev *event.Event) {
	l.entries = append(l.entries, LogEntry{
		Type:      entryType,
		Step:      ev.Step,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	})
}

// reset clears accumulated entries before a new run.
func (l *executionLog) reset() {
	l.entries = nil
}
