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

// Package checkpoint persists agent execution snapshots so runs can resume
// after pauses (human input) or be replayed from a known step.
//
// Checkpoints are append-only: a saved checkpoint is never mutated. Resumed
// runs link their new checkpoints to the origin via ParentID, forming a
// linear chain per thread.
package checkpoint

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/omni/pkg/model"
)

// Usage is the token accounting persisted with a checkpoint.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Checkpoint is a snapshot of an agent's execution state.
type Checkpoint struct {
	ID               string           `json:"id"`
	AgentID          string           `json:"agent_id"`
	ThreadID         string           `json:"thread_id"`
	Step             int              `json:"step"`
	Status           string           `json:"status"`
	Messages         []model.Message  `json:"messages"`
	PendingToolCalls []model.ToolCall `json:"pending_tool_calls,omitempty"`
	TokenUsage       Usage            `json:"token_usage"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ParentID         string           `json:"parent_id,omitempty"`
}

// New creates a checkpoint with a fresh id and the current time. Messages
// are deep-copied so the snapshot is isolated from the running loop.
func New(agentID, threadID string, step int, status string, messages []model.Message) *Checkpoint {
	return &Checkpoint{
		ID:        NewID(),
		AgentID:   agentID,
		ThreadID:  threadID,
		Step:      step,
		Status:    status,
		Messages:  model.CloneMessages(messages),
		Metadata:  make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

// NewID returns a checkpoint id of the form "ckpt_<12 hex>".
func NewID() string {
	return "ckpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Store is the persistence capability consumed by the loop.
//
// Implementations must be safe for concurrent use across threads; writes
// within one thread serialize on the underlying storage.
type Store interface {
	// Save persists a checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves a checkpoint by id, or nil when absent.
	Load(ctx context.Context, id string) (*Checkpoint, error)

	// LoadLatest retrieves the newest checkpoint for a thread, or nil.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns up to limit checkpoints for a thread, newest first.
	List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error)

	// Delete removes a checkpoint, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteThread removes all checkpoints of a thread, returning the count.
	DeleteThread(ctx context.Context, threadID string) (int, error)
}

// Config controls when the loop persists checkpoints.
type Config struct {
	Enabled                 bool `yaml:"enabled"`
	SaveOnToolExecution     bool `yaml:"save_on_tool_execution"`
	SaveOnUserInput         bool `yaml:"save_on_user_input"`
	SaveOnStep              bool `yaml:"save_on_step"`
	MaxCheckpointsPerThread int  `yaml:"max_checkpoints_per_thread"`
}

// DefaultConfig enables the common save points with a bounded history.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		SaveOnToolExecution:     true,
		SaveOnUserInput:         true,
		SaveOnStep:              false,
		MaxCheckpointsPerThread: 50,
	}
}

// Prune enforces retention for a thread: after a save, the newest
// maxPerThread checkpoints are kept and the surplus deleted, oldest first.
func Prune(ctx context.Context, store Store, threadID string, maxPerThread int) error {
	if maxPerThread <= 0 {
		return nil
	}
	// Fetch a little beyond the cap so the tail is visible.
	checkpoints, err := store.List(ctx, threadID, maxPerThread+10)
	if err != nil {
		return err
	}
	for _, cp := range checkpoints[min(maxPerThread, len(checkpoints)):] {
		if _, err := store.Delete(ctx, cp.ID); err != nil {
			return err
		}
	}
	return nil
}
