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
	"path/filepath"
	"strings"
	"time"
)

// PromptSection is a user-defined XML-tagged block appended to the prompt
// in insertion order.
type PromptSection struct {
	Tag     string
	Content string
}

// PromptConfig declares the structured system prompt. Sections render in a
// fixed order; empty sections are skipped.
type PromptConfig struct {
	Name        string
	Description string
	Role        string

	// Instructions renders inline for a single entry, bulleted otherwise.
	Instructions []string

	// Markdown adds output formatting guidance.
	Markdown bool

	ExpectedOutput string

	// AddWorkspaceInfo injects the absolute workspace path.
	AddWorkspaceInfo bool

	// AddDatetime injects the current time in Timezone (default UTC).
	AddDatetime bool
	Timezone    string

	AdditionalInformation []string

	// CustomSections render after the fixed sections, in order.
	CustomSections []PromptSection

	// AdditionalContext is a trailing free-form paragraph.
	AdditionalContext string
}

// SkillMetadataProvider supplies the progressive-disclosure skills block
// (names and descriptions only; bodies are fetched via the get_skill tool).
type SkillMetadataProvider interface {
	MetadataPrompt() string
}

// BuildSystemPrompt renders the structured system prompt. Section order:
// name heading, description, role, instructions, markdown guidance, tool
// usage guidelines, skills metadata, expected output, workspace info,
// datetime, additional information, custom sections, additional context.
func BuildSystemPrompt(cfg PromptConfig, workspaceDir string, skills SkillMetadataProvider, toolInstructions []string) string {
	var sections []string

	if cfg.Name != "" {
		sections = append(sections, "# "+cfg.Name+"\n")
	}
	if cfg.Description != "" {
		sections = append(sections, cfg.Description)
	}
	if cfg.Role != "" {
		sections = append(sections, fmt.Sprintf("<your_role>\n%s\n</your_role>", cfg.Role))
	}
	if len(cfg.Instructions) > 0 {
		sections = append(sections, buildInstructions(cfg.Instructions))
	}
	if cfg.Markdown {
		sections = append(sections, markdownSection)
	}
	if len(toolInstructions) > 0 {
		var b strings.Builder
		b.WriteString("<tool_usage_guidelines>")
		for _, inst := range toolInstructions {
			b.WriteString("\n")
			b.WriteString(inst)
		}
		b.WriteString("\n</tool_usage_guidelines>")
		sections = append(sections, b.String())
	}
	if skills != nil {
		if metadata := skills.MetadataPrompt(); metadata != "" {
			sections = append(sections, metadata)
		}
	}
	if cfg.ExpectedOutput != "" {
		sections = append(sections, fmt.Sprintf("<expected_output>\n%s\n</expected_output>", strings.TrimSpace(cfg.ExpectedOutput)))
	}
	if cfg.AddWorkspaceInfo && workspaceDir != "" {
		abs, err := filepath.Abs(workspaceDir)
		if err != nil {
			abs = workspaceDir
		}
		sections = append(sections, fmt.Sprintf(
			"<workspace_info>\nCurrent working directory: `%s`\nAll relative file paths are resolved relative to this directory.\n</workspace_info>", abs))
	}
	if cfg.AddDatetime {
		sections = append(sections, datetimeSection(cfg.Timezone))
	}
	if len(cfg.AdditionalInformation) > 0 {
		var b strings.Builder
		b.WriteString("<additional_information>")
		for _, info := range cfg.AdditionalInformation {
			b.WriteString("\n- ")
			b.WriteString(info)
		}
		b.WriteString("\n</additional_information>")
		sections = append(sections, b.String())
	}
	for _, section := range cfg.CustomSections {
		sections = append(sections, fmt.Sprintf("<%s>\n%s\n</%s>", section.Tag, section.Content, section.Tag))
	}
	if cfg.AdditionalContext != "" {
		sections = append(sections, cfg.AdditionalContext)
	}

	return strings.Join(sections, "\n\n")
}

func buildInstructions(instructions []string) string {
	var b strings.Builder
	b.WriteString("<instructions>")
	if len(instructions) == 1 {
		b.WriteString("\n")
		b.WriteString(instructions[0])
	} else {
		for _, inst := range instructions {
			b.WriteString("\n- ")
			b.WriteString(inst)
		}
	}
	b.WriteString("\n</instructions>")
	return b.String()
}

const markdownSection = `<output_format>
Use markdown formatting to improve readability:
- Use headers (##, ###) to organize sections
- Use bullet points and numbered lists
- Use code blocks for code snippets
- Use **bold** for emphasis
</output_format>`

func datetimeSection(timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if parsed, err := time.LoadLocation(timezone); err == nil {
			loc = parsed
		}
	}
	now := time.Now().In(loc)
	return fmt.Sprintf("<current_datetime>\n%s\n</current_datetime>", now.Format("2006-01-02 15:04:05 MST"))
}
