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
	"fmt"

	"github.com/kadirpekel/omni/pkg/checkpoint"
	"github.com/kadirpekel/omni/pkg/model"
)

// Status is the run-state of an agent.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// State holds everything the loop mutates during a run: the conversation,
// the step counter, token totals and the pause bookkeeping.
//
// The running loop owns the state exclusively; callers must not mutate it
// concurrently with a run. Message 0 is always the system message.
type State struct {
	Status      Status
	CurrentStep int
	MaxSteps    int

	TotalInputTokens  int
	TotalOutputTokens int

	Messages []model.Message

	// PendingUserInput and PausedToolCallID are set iff Status is
	// StatusWaitingInput.
	PendingUserInput *UserInputRequest
	PausedToolCallID string

	// ErrorMessage is set iff Status is StatusError.
	ErrorMessage string

	ThreadID         string
	LastCheckpointID string
}

// NewState creates an idle state seeded with the system prompt.
func NewState(systemPrompt string, maxSteps int) *State {
	return &State{
		Status:   StatusIdle,
		MaxSteps: maxSteps,
		Messages: []model.Message{model.NewSystemMessage(systemPrompt)},
	}
}

// ResetForRun prepares the state for a (re-)run: step counter back to zero,
// error and pause bookkeeping cleared, messages and token totals preserved.
func (s *State) ResetForRun() {
	s.Status = StatusRunning
	s.CurrentStep = 0
	s.ErrorMessage = ""
	s.PendingUserInput = nil
	s.PausedToolCallID = ""
}

// IncrementStep advances the step counter.
func (s *State) IncrementStep() {
	s.CurrentStep++
}

// CanContinue reports whether another step may start.
func (s *State) CanContinue() bool {
	return s.Status == StatusRunning && s.CurrentStep < s.MaxSteps
}

// AddTokens accumulates usage into the monotone totals.
func (s *State) AddTokens(usage model.TokenUsage) {
	s.TotalInputTokens += usage.Input
	s.TotalOutputTokens += usage.Output
}

// Append adds a message to the conversation.
func (s *State) Append(msg model.Message) {
	s.Messages = append(s.Messages, msg)
}

// SetSystemPrompt replaces the content of the system message.
func (s *State) SetSystemPrompt(prompt string) {
	if len(s.Messages) > 0 && s.Messages[0].Role == model.RoleSystem {
		s.Messages[0].Content = prompt
		return
	}
	s.Messages = append([]model.Message{model.NewSystemMessage(prompt)}, s.Messages...)
}

// MarkWaitingInput pauses the run for human input.
func (s *State) MarkWaitingInput(req *UserInputRequest, toolCallID string) {
	s.Status = StatusWaitingInput
	s.PendingUserInput = req
	s.PausedToolCallID = toolCallID
}

// MarkCompleted terminates the run successfully.
func (s *State) MarkCompleted() {
	s.Status = StatusCompleted
}

// MarkError terminates the run with an error message.
func (s *State) MarkError(msg string) {
	s.Status = StatusError
	s.ErrorMessage = msg
}

// ResumeFromInput clears the pause bookkeeping and re-enters Running.
func (s *State) ResumeFromInput() {
	s.Status = StatusRunning
	s.PendingUserInput = nil
	s.PausedToolCallID = ""
}

// Validate checks the structural conversation invariants: exactly one
// system message at index 0, and every tool message answering a preceding
// assistant tool call.
func (s *State) Validate() error {
	if len(s.Messages) == 0 || s.Messages[0].Role != model.RoleSystem {
		return fmt.Errorf("message 0 must be the system message")
	}
	seen := make(map[string]bool)
	for i, msg := range s.Messages {
		if i > 0 && msg.Role == model.RoleSystem {
			return fmt.Errorf("duplicate system message at index %d", i)
		}
		for _, call := range msg.ToolCalls {
			seen[call.ID] = true
		}
		if msg.Role == model.RoleTool && !seen[msg.ToolCallID] {
			return fmt.Errorf("tool message at index %d references unknown tool call %q", i, msg.ToolCallID)
		}
	}
	return nil
}

// ToCheckpoint snapshots the state into a checkpoint for the given agent.
func (s *State) ToCheckpoint(agentID string) *checkpoint.Checkpoint {
	cp := checkpoint.New(agentID, s.ThreadID, s.CurrentStep, string(s.Status), s.Messages)
	cp.TokenUsage = checkpoint.Usage{Input: s.TotalInputTokens, Output: s.TotalOutputTokens}
	cp.ParentID = s.LastCheckpointID
	return cp
}

// StateFromCheckpoint reconstructs a runnable state from a checkpoint.
// The restored status is Idle so the next Run resets cleanly; messages,
// step and token totals come from the snapshot.
func StateFromCheckpoint(cp *checkpoint.Checkpoint, maxSteps int) *State {
	return &State{
		Status:            StatusIdle,
		CurrentStep:       cp.Step,
		MaxSteps:          maxSteps,
		TotalInputTokens:  cp.TokenUsage.Input,
		TotalOutputTokens: cp.TokenUsage.Output,
		Messages:          model.CloneMessages(cp.Messages),
		ThreadID:          cp.ThreadID,
		LastCheckpointID:  cp.ID,
	}
}
