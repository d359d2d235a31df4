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

// Package event provides the typed pub/sub used by the agent loop.
// Delivery is synchronous and single-threaded within a run: handlers run
// inline at the point of emission, global handlers first, then per-type
// handlers, each in registration order.
package event

import "time"

// Type enumerates agent lifecycle events.
type Type string

const (
	StepStart           Type = "step_start"
	StepEnd             Type = "step_end"
	LLMRequest          Type = "llm_request"
	LLMResponse         Type = "llm_response"
	ToolStart           Type = "tool_start"
	ToolEnd             Type = "tool_end"
	UserInputRequired   Type = "user_input_required"
	Completion          Type = "completion"
	Error               Type = "error"
	TokenSummary        Type = "token_summary"
	RalphIterationStart Type = "ralph_iteration_start"
	RalphIterationEnd   Type = "ralph_iteration_end"
	RalphCompletion     Type = "ralph_completion"
)

// Event is a typed notification emitted at well-defined loop points.
type Event struct {
	Type      Type           `json:"type"`
	Step      int            `json:"step"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(typ Type, step int, data map[string]any) *Event {
	if data == nil {
		data = make(map[string]any)
	}
	return &Event{Type: typ, Step: step, Data: data, Timestamp: time.Now()}
}

// Handler consumes an event. Handlers are expected to be total; a returned
// error aborts emission and propagates to the loop.
type Handler func(*Event) error

// Emitter dispatches events to global and per-type handlers.
// Registration and emission happen on the run's goroutine; the emitter is
// not synchronized.
type Emitter struct {
	global   []Handler
	handlers map[Type][]Handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[Type][]Handler)}
}

// On registers a handler for one event type.
func (e *Emitter) On(typ Type, h Handler) {
	e.handlers[typ] = append(e.handlers[typ], h)
}

// OnAll registers a handler for every event type.
func (e *Emitter) OnAll(h Handler) {
	e.global = append(e.global, h)
}

// Emit delivers the event to global handlers, then type handlers, in
// registration order. The first handler error stops delivery.
func (e *Emitter) Emit(ev *Event) error {
	for _, h := range e.global {
		if err := h(ev); err != nil {
			return err
		}
	}
	for _, h := range e.handlers[ev.Type] {
		if err := h(ev); err != nil {
			return err
		}
	}
	return nil
}
