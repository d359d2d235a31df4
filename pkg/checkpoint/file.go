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

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists checkpoints as JSON files laid out as
// <base>/<thread_id>/<checkpoint_id>.json.
type FileStore struct {
	base string
	mu   sync.Mutex
}

// NewFileStore creates a file store rooted at base, creating it if needed.
func NewFileStore(base string) (*FileStore, error) {
	if base == "" {
		return nil, fmt.Errorf("checkpoint base directory is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{base: base}, nil
}

// Save writes the checkpoint file under its thread directory.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("cannot save nil checkpoint")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("thread_id is required for checkpoint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.base, cp.ThreadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create thread directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	path := filepath.Join(dir, cp.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	slog.Debug("Saved checkpoint",
		"checkpoint_id", cp.ID,
		"thread_id", cp.ThreadID,
		"step", cp.Step,
		"status", cp.Status)
	return nil
}

// Load scans thread directories for the checkpoint id.
func (s *FileStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads, err := os.ReadDir(s.base)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	for _, entry := range threads {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.base, entry.Name(), id+".json")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return readCheckpointFile(path)
	}
	return nil, nil
}

// LoadLatest returns the newest checkpoint of a thread, or nil.
func (s *FileStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	checkpoints, err := s.List(ctx, threadID, 1)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}
	return checkpoints[0], nil
}

// List returns up to limit checkpoints of a thread, newest first.
func (s *FileStore) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.base, threadID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cp, err := readCheckpointFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable checkpoint file",
				"path", entry.Name(), "error", err)
			continue
		}
		checkpoints = append(checkpoints, cp)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	if limit > 0 && len(checkpoints) > limit {
		checkpoints = checkpoints[:limit]
	}
	return checkpoints, nil
}

// Delete removes a checkpoint file, pruning empty thread directories.
func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads, err := os.ReadDir(s.base)
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	for _, entry := range threads {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.base, entry.Name())
		path := filepath.Join(dir, id+".json")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		if remaining, err := os.ReadDir(dir); err == nil && len(remaining) == 0 {
			_ = os.Remove(dir)
		}
		return true, nil
	}
	return false, nil
}

// DeleteThread removes a thread directory and returns the checkpoint count.
func (s *FileStore) DeleteThread(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.base, threadID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read thread directory: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("failed to delete thread directory: %w", err)
	}
	return count, nil
}

func readCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint file: %w", err)
	}
	return &cp, nil
}

var _ Store = (*FileStore)(nil)
