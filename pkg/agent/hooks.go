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
	"context"
	"sort"

	"github.com/kadirpekel/omni/pkg/event"
)

// Hook is a priority-ordered interceptor around a run. Typical hooks inject
// memory into the system prompt before the run, observe steps, and extract
// facts after the run.
type Hook interface {
	// Name identifies the hook in logs.
	Name() string

	// Priority orders invocation; lower runs first.
	Priority() int

	// BeforeRun is invoked once before the first step.
	BeforeRun(ctx context.Context, state *State) error

	// OnStep is invoked after each completed step with the StepEnd event.
	OnStep(ctx context.Context, state *State, ev *event.Event) error

	// AfterRun is invoked once after the run terminates.
	AfterRun(ctx context.Context, state *State, result string, success bool) error
}

// HookManager keeps hooks sorted by priority and fans out lifecycle calls
// synchronously in order.
type HookManager struct {
	hooks []Hook
}

// NewHookManager creates a manager over the given hooks.
func NewHookManager(hooks ...Hook) *HookManager {
	m := &HookManager{}
	for _, h := range hooks {
		m.Register(h)
	}
	return m
}

// Register adds a hook, keeping the priority order stable.
func (m *HookManager) Register(h Hook) {
	if h == nil {
		return
	}
	m.hooks = append(m.hooks, h)
	sort.SliceStable(m.hooks, func(i, j int) bool {
		return m.hooks[i].Priority() < m.hooks[j].Priority()
	})
}

// BeforeRun invokes every hook's BeforeRun in priority order.
func (m *HookManager) BeforeRun(ctx context.Context, state *State) error {
	for _, h := range m.hooks {
		if err := h.BeforeRun(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// OnStep invokes every hook's OnStep in priority order.
func (m *HookManager) OnStep(ctx context.Context, state *State, ev *event.Event) error {
	for _, h := range m.hooks {
		if err := h.OnStep(ctx, state, ev); err != nil {
			return err
		}
	}
	return nil
}

// AfterRun invokes every hook's AfterRun in priority order.
func (m *HookManager) AfterRun(ctx context.Context, state *State, result string, success bool) error {
	for _, h := range m.hooks {
		if err := h.AfterRun(ctx, state, result, success); err != nil {
			return err
		}
	}
	return nil
}
