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

// Package session provides persisted multi-run conversation scopes.
//
// A Session is the durable history a team or agent can consult across runs.
// The Manager fronts a pluggable byte-oriented Store with an in-memory
// cache; all access serializes on a single mutex.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/omni/pkg/model"
)

// Store is the byte-oriented persistence capability for sessions.
type Store interface {
	// GetSession returns the stored payload, or nil when absent.
	GetSession(ctx context.Context, id string) ([]byte, error)

	// SaveSession persists the payload under id.
	SaveSession(ctx context.Context, id string, data []byte) error

	// DeleteSession removes a session, reporting whether it existed.
	DeleteSession(ctx context.Context, id string) (bool, error)

	// ListSessions returns all stored session ids.
	ListSessions(ctx context.Context) ([]string, error)

	// CleanupExpired removes sessions idle longer than maxAge, returning
	// the count removed.
	CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error)

	// Close releases store resources.
	Close() error
}

// Session is a persisted conversation scope.
type Session struct {
	ID        string          `json:"id"`
	History   []model.Message `json:"history"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Manager caches sessions in memory in front of a Store. A single mutex
// guards the cache map and serializes per-session appends.
type Manager struct {
	mu    sync.Mutex
	store Store
	cache map[string]*Session
}

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, cache: make(map[string]*Session)}
}

// Get loads a session, creating an empty one when absent.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx, id)
}

func (m *Manager) getLocked(ctx context.Context, id string) (*Session, error) {
	if sess, ok := m.cache[id]; ok {
		return sess, nil
	}
	data, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	sess := &Session{ID: id, CreatedAt: time.Now().UTC()}
	if data != nil {
		if err := json.Unmarshal(data, sess); err != nil {
			return nil, fmt.Errorf("failed to parse session %s: %w", id, err)
		}
	}
	m.cache[id] = sess
	return sess, nil
}

// Append adds messages to a session's history and persists it.
func (m *Manager) Append(ctx context.Context, id string, messages ...model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, id)
	if err != nil {
		return err
	}
	sess.History = append(sess.History, messages...)
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to serialize session %s: %w", id, err)
	}
	return m.store.SaveSession(ctx, id, data)
}

// History returns a copy of the session's message history, bounded to the
// most recent limit messages when limit > 0.
func (m *Manager) History(ctx context.Context, id string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	history := sess.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return model.CloneMessages(history), nil
}

// Delete removes a session from cache and store.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
	return m.store.DeleteSession(ctx, id)
}

// CleanupExpired evicts expired sessions from the store and drops any
// cached copies.
func (m *Manager) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.store.CleanupExpired(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	remaining, err := m.store.ListSessions(ctx)
	if err != nil {
		return count, nil
	}
	alive := make(map[string]bool, len(remaining))
	for _, id := range remaining {
		alive[id] = true
	}
	for id := range m.cache {
		if !alive[id] {
			delete(m.cache, id)
		}
	}
	return count, nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
