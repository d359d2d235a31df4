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

// Package skill loads progressively disclosed skills from SKILL.md files.
// Only the front-matter metadata enters the system prompt; the body is
// fetched on demand through the get_skill tool.
package skill

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Skill is one loaded skill.
type Skill struct {
	Name         string
	Description  string
	Content      string
	License      string
	AllowedTools []string
	Metadata     map[string]string
	Path         string
}

// ToPrompt renders the full skill for on-demand loading.
func (s *Skill) ToPrompt() string {
	return fmt.Sprintf("\n# Skill: %s\n\n%s\n\n---\n\n%s\n", s.Name, s.Description, s.Content)
}

type frontMatter struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	License      string            `yaml:"license"`
	AllowedTools []string          `yaml:"allowed-tools"`
	Metadata     map[string]string `yaml:"metadata"`
}

var frontMatterPattern = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n(.*)$`)

// Loader discovers and serves skills from a directory tree.
type Loader struct {
	dir string

	mu     sync.RWMutex
	skills map[string]*Skill
	order  []string
}

// NewLoader creates a loader rooted at dir. Call Discover to load.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:    dir,
		skills: make(map[string]*Skill),
	}
}

// Discover walks the directory for SKILL.md files and loads them,
// replacing any previously loaded set. Unparseable skills are skipped
// with a warning.
func (l *Loader) Discover() ([]*Skill, error) {
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		slog.Warn("Skills directory not found", "dir", l.dir)
		return nil, nil
	}

	var skills []*Skill
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "SKILL.md" {
			return nil
		}
		skill, err := LoadSkill(path)
		if err != nil {
			slog.Warn("Failed to load skill", "path", path, "error", err)
			return nil
		}
		skills = append(skills, skill)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover skills: %w", err)
	}

	l.mu.Lock()
	l.skills = make(map[string]*Skill, len(skills))
	l.order = l.order[:0]
	for _, skill := range skills {
		if _, exists := l.skills[skill.Name]; !exists {
			l.order = append(l.order, skill.Name)
		}
		l.skills[skill.Name] = skill
	}
	l.mu.Unlock()

	slog.Info("Discovered skills", "count", len(skills), "dir", l.dir)
	return skills, nil
}

// Get returns a loaded skill by name.
func (l *Loader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	skill, ok := l.skills[name]
	return skill, ok
}

// Names lists loaded skill names in discovery order.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, len(l.order))
	copy(names, l.order)
	return names
}

// MetadataPrompt renders the Available Skills block for the system
// prompt: names and descriptions only.
func (l *Loader) MetadataPrompt() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.order) == 0 {
		return ""
	}
	parts := []string{
		"## Available Skills\n",
		"You have access to specialized skills. Each skill provides expert guidance for specific tasks.\n",
		"Load a skill's full content using the `get_skill` tool when needed.\n",
	}
	for _, name := range l.order {
		skill := l.skills[name]
		parts = append(parts, fmt.Sprintf("- `%s`: %s", skill.Name, skill.Description))
	}
	return strings.Join(parts, "\n")
}

// LoadSkill parses one SKILL.md file. The body's relative file references
// are rewritten to absolute paths so the model can read nested resources
// directly.
func LoadSkill(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read skill file: %w", err)
	}

	match := frontMatterPattern.FindSubmatch(data)
	if match == nil {
		return nil, fmt.Errorf("missing YAML front-matter")
	}

	var fm frontMatter
	if err := yaml.Unmarshal(match[1], &fm); err != nil {
		return nil, fmt.Errorf("failed to parse YAML front-matter: %w", err)
	}
	if fm.Name == "" || fm.Description == "" {
		return nil, fmt.Errorf("missing required fields (name or description)")
	}

	skillDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		skillDir = filepath.Dir(path)
	}
	content := rewritePaths(strings.TrimSpace(string(match[2])), skillDir)

	return &Skill{
		Name:         fm.Name,
		Description:  fm.Description,
		Content:      content,
		License:      fm.License,
		AllowedTools: fm.AllowedTools,
		Metadata:     fm.Metadata,
		Path:         path,
	}, nil
}

var (
	dirPathPattern  = regexp.MustCompile("(python\\s+|`)((?:scripts|examples|templates|reference)/[^\\s`)]+)")
	docRefPattern   = regexp.MustCompile(`(?i)(see|read|refer to|check)\s+([a-zA-Z0-9_-]+\.(?:md|txt|json|yaml))([.,;\s])`)
	mdLinkPattern   = regexp.MustCompile("(?i)(?:(Read|See|Check|Refer to|Load|View)\\s+)?\\[(`?[^`\\]]+`?)\\]\\(((?:\\./)?[^)]+\\.(?:md|txt|json|yaml|js|py|html))\\)")
	readFileTrailer = " (use read_file to access)"
)

// rewritePaths converts relative file references in a skill body into
// absolute paths, when the referenced file exists next to the skill.
func rewritePaths(content, skillDir string) string {
	content = dirPathPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := dirPathPattern.FindStringSubmatch(match)
		abs := filepath.Join(skillDir, groups[2])
		if fileExists(abs) {
			return groups[1] + abs
		}
		return match
	})

	content = docRefPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := docRefPattern.FindStringSubmatch(match)
		abs := filepath.Join(skillDir, groups[2])
		if fileExists(abs) {
			return groups[1] + " `" + abs + "`" + readFileTrailer + groups[3]
		}
		return match
	})

	content = mdLinkPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := mdLinkPattern.FindStringSubmatch(match)
		rel := strings.TrimPrefix(groups[3], "./")
		abs := filepath.Join(skillDir, rel)
		if fileExists(abs) {
			prefix := groups[1]
			if prefix != "" {
				prefix += " "
			}
			return prefix + "[" + groups[2] + "](`" + abs + "`)" + readFileTrailer
		}
		return match
	})

	return content
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
