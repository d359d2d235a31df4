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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Working memory categories.
const (
	CategoryProgress  = "progress"
	CategoryFindings  = "findings"
	CategoryTodo      = "todo"
	CategoryDecisions = "decisions"
	CategoryErrors    = "errors"
)

// MemoryEntry is one categorized working-memory record.
type MemoryEntry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Category  string    `json:"category"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

type memoryFile struct {
	CurrentIteration int                     `json:"current_iteration"`
	FilesModified    []string                `json:"files_modified"`
	Entries          map[string]*MemoryEntry `json:"entries"`
}

// WorkingMemory is structured memory persisted to
// <workspace>/<memory_dir>/memory.json. Every mutation is written through;
// construction loads the previous state.
type WorkingMemory struct {
	mu            sync.Mutex
	path          string
	entries       map[string]*MemoryEntry
	order         []string
	iteration     int
	filesModified map[string]bool
}

// NewWorkingMemory opens (or creates) the memory for a workspace.
func NewWorkingMemory(workspaceDir, memoryDir string) (*WorkingMemory, error) {
	if memoryDir == "" {
		memoryDir = DefaultMemoryDir
	}
	m := &WorkingMemory{
		path:          filepath.Join(workspaceDir, memoryDir, "memory.json"),
		entries:       make(map[string]*MemoryEntry),
		filesModified: make(map[string]bool),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WorkingMemory) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read working memory: %w", err)
	}

	var file memoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		// A corrupt memory file starts the memory fresh instead of
		// blocking the loop.
		return nil
	}
	m.iteration = file.CurrentIteration
	for _, path := range file.FilesModified {
		m.filesModified[path] = true
	}
	for key, entry := range file.Entries {
		m.entries[key] = entry
		m.order = append(m.order, key)
	}
	sort.Slice(m.order, func(i, j int) bool {
		a, b := m.entries[m.order[i]], m.entries[m.order[j]]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Key < b.Key
	})
	return nil
}

func (m *WorkingMemory) saveLocked() error {
	files := make([]string, 0, len(m.filesModified))
	for path := range m.filesModified {
		files = append(files, path)
	}
	sort.Strings(files)

	file := memoryFile{
		CurrentIteration: m.iteration,
		FilesModified:    files,
		Entries:          m.entries,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode working memory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write working memory: %w", err)
	}
	return nil
}

func (m *WorkingMemory) setEntryLocked(key string, value any, category string) error {
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = &MemoryEntry{
		Key:       key,
		Value:     value,
		Category:  category,
		Iteration: m.iteration,
		Timestamp: time.Now(),
	}
	return m.saveLocked()
}

// Get returns the value for a key.
func (m *WorkingMemory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// ByCategory returns entries of one category in insertion order.
func (m *WorkingMemory) ByCategory(category string) []*MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byCategoryLocked(category)
}

func (m *WorkingMemory) byCategoryLocked(category string) []*MemoryEntry {
	var entries []*MemoryEntry
	for _, key := range m.order {
		if entry, ok := m.entries[key]; ok && entry.Category == category {
			entries = append(entries, entry)
		}
	}
	return entries
}

// AddProgress records a progress note.
func (m *WorkingMemory) AddProgress(description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("progress_%d_%s", m.iteration, shortID())
	return m.setEntryLocked(key, description, CategoryProgress)
}

// AddFinding records an insight.
func (m *WorkingMemory) AddFinding(finding string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("finding_%d_%s", m.iteration, shortID())
	return m.setEntryLocked(key, finding, CategoryFindings)
}

// AddTodo records a pending task and returns its key.
func (m *WorkingMemory) AddTodo(task string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "todo_" + shortID()
	err := m.setEntryLocked(key, map[string]any{"task": task, "completed": false}, CategoryTodo)
	return key, err
}

// CompleteTodo marks a todo done. Returns false when the key is unknown or
// not a todo.
func (m *WorkingMemory) CompleteTodo(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || entry.Category != CategoryTodo {
		return false, nil
	}
	value, ok := entry.Value.(map[string]any)
	if !ok {
		return false, nil
	}
	value["completed"] = true
	entry.Iteration = m.iteration
	return true, m.saveLocked()
}

// AddDecision records a decision with its reasoning.
func (m *WorkingMemory) AddDecision(decision, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("decision_%d_%s", m.iteration, shortID())
	return m.setEntryLocked(key, map[string]any{"decision": decision, "reason": reason}, CategoryDecisions)
}

// AddError records an error with optional context.
func (m *WorkingMemory) AddError(errText, errContext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("error_%d_%s", m.iteration, shortID())
	return m.setEntryLocked(key, map[string]any{"error": errText, "context": errContext}, CategoryErrors)
}

// RecordFileModified adds a path to the iteration's modified set.
func (m *WorkingMemory) RecordFileModified(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filesModified[path] = true
	return m.saveLocked()
}

// FilesModified returns a copy of the modified-file set.
func (m *WorkingMemory) FilesModified() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := make(map[string]bool, len(m.filesModified))
	for path := range m.filesModified {
		files[path] = true
	}
	return files
}

// ClearIterationFiles resets the modified-file set at iteration start.
func (m *WorkingMemory) ClearIterationFiles() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filesModified = make(map[string]bool)
	return m.saveLocked()
}

// IncrementIteration advances and returns the iteration counter.
func (m *WorkingMemory) IncrementIteration() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iteration++
	return m.iteration, m.saveLocked()
}

// CurrentIteration returns the iteration counter.
func (m *WorkingMemory) CurrentIteration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iteration
}

// ToContextString renders the memory block injected into the prompt.
func (m *WorkingMemory) ToContextString() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	todos := m.byCategoryLocked(CategoryTodo)
	var pending, completed []*MemoryEntry
	for _, entry := range todos {
		if todoCompleted(entry) {
			completed = append(completed, entry)
		} else {
			pending = append(pending, entry)
		}
	}

	lines := []string{
		fmt.Sprintf("## Working Memory (Iteration %d)", m.iteration),
		"",
		fmt.Sprintf("Files Modified: %d", len(m.filesModified)),
		fmt.Sprintf("Pending Tasks: %d", len(pending)),
		fmt.Sprintf("Completed Tasks: %d", len(completed)),
	}

	if progress := tailEntries(m.byCategoryLocked(CategoryProgress), 5); len(progress) > 0 {
		lines = append(lines, "", "### Recent Progress")
		for _, entry := range progress {
			lines = append(lines, fmt.Sprintf("- %v", entry.Value))
		}
	}
	if findings := tailEntries(m.byCategoryLocked(CategoryFindings), 5); len(findings) > 0 {
		lines = append(lines, "", "### Key Findings")
		for _, entry := range findings {
			lines = append(lines, fmt.Sprintf("- %v", entry.Value))
		}
	}
	if len(pending) > 0 {
		lines = append(lines, "", "### Pending Tasks")
		for _, entry := range pending {
			if value, ok := entry.Value.(map[string]any); ok {
				lines = append(lines, fmt.Sprintf("- [ ] %v", value["task"]))
			}
		}
	}
	if errs := m.byCategoryLocked(CategoryErrors); len(errs) > 0 {
		lines = append(lines, "", "### Errors to Address")
		for _, entry := range errs {
			if value, ok := entry.Value.(map[string]any); ok {
				lines = append(lines, fmt.Sprintf("- %v", value["error"]))
			}
		}
	}

	result := ""
	for i, line := range lines {
		if i > 0 {
			result += "\n"
		}
		result += line
	}
	return result
}

// Clear wipes the memory and removes the backing file.
func (m *WorkingMemory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*MemoryEntry)
	m.order = nil
	m.filesModified = make(map[string]bool)
	m.iteration = 0
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func todoCompleted(entry *MemoryEntry) bool {
	value, ok := entry.Value.(map[string]any)
	if !ok {
		return false
	}
	completed, _ := value["completed"].(bool)
	return completed
}

func tailEntries(entries []*MemoryEntry, n int) []*MemoryEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func shortID() string {
	return uuid.NewString()[:8]
}
