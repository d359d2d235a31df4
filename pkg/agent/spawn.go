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
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/tool"
)

// SpawnToolName is the reserved name of the sub-agent tool.
const SpawnToolName = "spawn_agent"

// Spawn defaults.
const (
	DefaultSpawnMaxDepth   = 3
	DefaultSpawnMaxSteps   = 15
	DefaultSpawnTokenLimit = 50000
	spawnMaxStepsCap       = 30
)

// SpawnConfig configures a SpawnTool.
type SpawnConfig struct {
	// LLM runs the sub-agents (required).
	LLM llm.Client

	// ParentTools is the pool sub-agents draw from.
	ParentTools []tool.Tool

	// WorkspaceDir is shared with sub-agents.
	WorkspaceDir string

	// CurrentDepth is 0 for the root agent's tool.
	CurrentDepth int

	// MaxDepth bounds nesting. Zero selects DefaultSpawnMaxDepth.
	MaxDepth int

	// DefaultMaxSteps and TokenLimit apply to sub-agents unless the call
	// overrides max_steps.
	DefaultMaxSteps int
	TokenLimit      int
}

// SpawnTool creates sub-agents with isolated state and a bounded nesting
// depth. When it inherits itself into a sub-agent's tool set it does so as
// a fresh instance with the depth incremented; at the depth limit it is
// omitted entirely.
type SpawnTool struct {
	cfg SpawnConfig
}

var _ tool.Tool = (*SpawnTool)(nil)
var _ tool.Instructed = (*SpawnTool)(nil)

// NewSpawnTool creates the sub-agent tool.
func NewSpawnTool(cfg SpawnConfig) (*SpawnTool, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultSpawnMaxDepth
	}
	if cfg.DefaultMaxSteps <= 0 {
		cfg.DefaultMaxSteps = DefaultSpawnMaxSteps
	}
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = DefaultSpawnTokenLimit
	}
	return &SpawnTool{cfg: cfg}, nil
}

func (t *SpawnTool) Name() string { return SpawnToolName }

func (t *SpawnTool) Description() string {
	return fmt.Sprintf(`Spawn a specialized sub-agent to handle a specific task autonomously.

Use this when:
- A task requires specialized expertise or a different approach
- Breaking down a complex task into independent subtasks
- You need focused work on a specific problem without cluttering your main context
- Parallel exploration of different solutions

The sub-agent will execute the task and return its final result to you.
You remain in control and can use the result to continue your work.

Current depth: %d/%d`, t.cfg.CurrentDepth, t.cfg.MaxDepth)
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Clear, specific description of what the sub-agent should accomplish",
			},
			"role": map[string]any{
				"type":        "string",
				"description": "Specialized role for the sub-agent (e.g., 'security auditor', 'test writer', 'documentation expert')",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Relevant background information or context from your current work",
			},
			"tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Specific tools to enable. Use tool names like 'read_file', 'write_file', 'edit_file', 'bash'. If not specified, inherits parent tools (except spawn_agent at max depth).",
			},
			"max_steps": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"maximum":     spawnMaxStepsCap,
				"description": fmt.Sprintf("Maximum steps for sub-agent execution (default: %d)", t.cfg.DefaultMaxSteps),
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Instructions() string {
	return `## Sub-Agent (spawn_agent) Usage Guidelines

When using spawn_agent to delegate tasks:

1. **Be specific**: Provide clear, focused tasks with concrete success criteria
2. **Provide context**: Share relevant information the sub-agent needs to understand the task
3. **Choose appropriate tools**: Only enable tools the sub-agent actually needs
4. **Set reasonable limits**: Use smaller max_steps for simple tasks (5-10), larger for complex ones (15-25)

### Good use cases:
- "Analyze the security of the authentication module in /src/auth" (role: security auditor)
- "Write unit tests for the calculate_total function" (role: test writer)
- "Review this code for performance issues" (role: performance analyst)

### Poor use cases:
- Vague tasks like "help me with this project"
- Tasks that require your current conversation context (sub-agents start fresh)
- Simple tasks you could do directly with one or two tool calls`
}

func (t *SpawnTool) AddInstructionsToPrompt() bool { return true }

type spawnArgs struct {
	Task     string   `json:"task"`
	Role     string   `json:"role"`
	Context  string   `json:"context"`
	Tools    []string `json:"tools"`
	MaxSteps int      `json:"max_steps"`
}

// Execute runs a sub-agent with fresh state and returns its final text
// wrapped with execution stats.
func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	if t.cfg.CurrentDepth >= t.cfg.MaxDepth {
		return tool.Fail(fmt.Sprintf(
			"Maximum agent nesting depth (%d) reached. Cannot spawn more sub-agents. Consider completing the task with available tools instead.",
			t.cfg.MaxDepth)), nil
	}

	var parsed spawnArgs
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &parsed,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(args); err != nil {
		return tool.Fail("Invalid arguments: " + err.Error()), nil
	}
	if parsed.Task == "" {
		return tool.Fail("task is required"), nil
	}

	subTools := t.buildSubAgentTools(parsed.Tools)

	maxSteps := parsed.MaxSteps
	if maxSteps <= 0 {
		maxSteps = t.cfg.DefaultMaxSteps
	}
	if maxSteps > spawnMaxStepsCap {
		maxSteps = spawnMaxStepsCap
	}

	role := parsed.Role
	name := "sub_agent_d" + fmt.Sprint(t.cfg.CurrentDepth+1) + "_"
	if role != "" {
		name += role
	} else {
		name += "general"
	}

	sub, err := New(Config{
		Name: name,
		LLM:  t.cfg.LLM,
		Prompt: PromptConfig{
			AdditionalContext: t.buildSubAgentPrompt(role, parsed.Context),
		},
		Tools:               subTools,
		MaxSteps:            maxSteps,
		WorkspaceDir:        t.cfg.WorkspaceDir,
		TokenLimit:          t.cfg.TokenLimit,
		EnableSummarization: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-agent: %w", err)
	}

	slog.Info("Spawning sub-agent",
		"role", role,
		"depth", t.cfg.CurrentDepth+1,
		"max_depth", t.cfg.MaxDepth,
		"max_steps", maxSteps)

	sub.AddUserMessage(parsed.Task)
	result, logs, err := sub.Run(ctx)
	if err != nil {
		return tool.Fail("Sub-agent execution failed: " + err.Error()), nil
	}

	stepsUsed := 0
	toolCalls := 0
	for _, entry := range logs {
		switch entry.Type {
		case "step":
			stepsUsed++
		case "tool_call":
			toolCalls++
		}
	}

	return tool.Ok(t.formatResult(parsed.Task, role, result, stepsUsed, toolCalls, maxSteps)), nil
}

// buildSubAgentTools selects the sub-agent's tool set. When the spawn tool
// passes itself down it is re-instantiated with the depth incremented, and
// dropped once the next level would hit the depth limit.
func (t *SpawnTool) buildSubAgentTools(names []string) []tool.Tool {
	atLimit := t.cfg.CurrentDepth+1 >= t.cfg.MaxDepth

	if names != nil {
		requested := make(map[string]bool, len(names))
		for _, name := range names {
			requested[name] = true
		}
		var tools []tool.Tool
		for _, parent := range t.cfg.ParentTools {
			if !requested[parent.Name()] {
				continue
			}
			if parent.Name() == SpawnToolName {
				if atLimit {
					continue
				}
				tools = append(tools, t.descend())
				continue
			}
			tools = append(tools, parent)
		}
		return tools
	}

	var tools []tool.Tool
	for _, parent := range t.cfg.ParentTools {
		if parent.Name() == SpawnToolName {
			if !atLimit {
				tools = append(tools, t.descend())
			}
			continue
		}
		tools = append(tools, parent)
	}
	return tools
}

func (t *SpawnTool) descend() *SpawnTool {
	next := t.cfg
	next.CurrentDepth++
	return &SpawnTool{cfg: next}
}

func (t *SpawnTool) buildSubAgentPrompt(role, parentContext string) string {
	var parts []string

	if role != "" {
		parts = append(parts, fmt.Sprintf("You are a specialized AI assistant acting as a **%s**.", role))
	} else {
		parts = append(parts, "You are an AI assistant executing a delegated task.")
	}

	parts = append(parts, `
Your task has been delegated from a parent agent. Focus on completing it efficiently and thoroughly.

## Guidelines
- Stay focused on the assigned task - do not deviate
- Be thorough but concise in your work
- Use available tools when necessary
- Report your findings and results clearly at the end
- If you encounter blockers, explain them clearly

## Important
- You have independent context - you don't see the parent's conversation
- Complete your task fully before finishing
- Provide actionable results the parent can use
`)

	if parentContext != "" {
		parts = append(parts, fmt.Sprintf("\n## Context from Parent Agent\n%s\n", parentContext))
	}

	if t.cfg.WorkspaceDir != "" {
		parts = append(parts, fmt.Sprintf(`
## Workspace
You are working in: `+"`%s`"+`
All relative paths are resolved from this directory.
`, t.cfg.WorkspaceDir))
	}

	if t.cfg.CurrentDepth+1 < t.cfg.MaxDepth {
		parts = append(parts, fmt.Sprintf(`
## Sub-Agent Capability
You can spawn sub-agents if needed (depth %d/%d).
Use this sparingly and only for truly independent subtasks.
`, t.cfg.CurrentDepth+1, t.cfg.MaxDepth))
	}

	return strings.Join(parts, "\n")
}

func (t *SpawnTool) formatResult(task, role, result string, stepsUsed, toolCalls, maxSteps int) string {
	header := "## Sub-Agent Execution Result"
	if role != "" {
		header += " (" + role + ")"
	}
	if len(task) > 300 {
		task = task[:300] + "..."
	}
	return fmt.Sprintf(`%s

**Task:** %s
**Execution:** %d/%d steps, %d tool calls
**Depth:** %d/%d

---

%s
`, header, task, stepsUsed, maxSteps, toolCalls, t.cfg.CurrentDepth+1, t.cfg.MaxDepth, result)
}
