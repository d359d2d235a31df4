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
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints in memory. Intended for tests and
// short-lived runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Checkpoint
	threads map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Checkpoint),
		threads: make(map[string][]string),
	}
}

// Save stores the checkpoint and indexes it under its thread.
func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[cp.ID]; !exists {
		s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], cp.ID)
	}
	s.byID[cp.ID] = cp
	return nil
}

// Load returns a checkpoint by id, or nil.
func (s *MemoryStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id], nil
}

// LoadLatest returns the newest checkpoint of a thread, or nil.
func (s *MemoryStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	checkpoints, err := s.List(ctx, threadID, 1)
	if err != nil || len(checkpoints) == 0 {
		return nil, err
	}
	return checkpoints[0], nil
}

// List returns up to limit checkpoints of a thread, newest first.
func (s *MemoryStore) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.threads[threadID]
	checkpoints := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.byID[id]; ok {
			checkpoints = append(checkpoints, cp)
		}
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	if limit > 0 && len(checkpoints) > limit {
		checkpoints = checkpoints[:limit]
	}
	return checkpoints, nil
}

// Delete removes a checkpoint, reporting whether it existed.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	delete(s.byID, id)

	ids := s.threads[cp.ThreadID]
	for i, candidate := range ids {
		if candidate == id {
			s.threads[cp.ThreadID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.threads[cp.ThreadID]) == 0 {
		delete(s.threads, cp.ThreadID)
	}
	return true, nil
}

// DeleteThread removes all of a thread's checkpoints.
func (s *MemoryStore) DeleteThread(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.threads[threadID]
	for _, id := range ids {
		delete(s.byID, id)
	}
	delete(s.threads, threadID)
	return len(ids), nil
}

var _ Store = (*MemoryStore)(nil)
