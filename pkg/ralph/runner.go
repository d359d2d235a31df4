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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/event"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/tool"
)

// RunnerConfig assembles a Runner.
type RunnerConfig struct {
	// Ralph is the loop configuration.
	Ralph Config

	// LLM runs the iterations (required).
	LLM llm.Client

	// Tools is the base tool set; the ralph tools are added on top.
	Tools []tool.Tool

	// WorkspaceDir hosts the working memory (required).
	WorkspaceDir string

	// Prompt is the base agent prompt; the ralph section is appended.
	Prompt agent.PromptConfig

	// MaxSteps bounds each iteration's agent run.
	MaxSteps int

	// UseSummarizer enables LLM-backed summarization of long tool
	// results and iteration transcripts.
	UseSummarizer bool
}

// RunResult is the outcome of a ralph run.
type RunResult struct {
	Result     string   `json:"result"`
	Iterations int      `json:"iterations"`
	Reason     string   `json:"reason"`
	Message    string   `json:"message"`
	TotalSteps int      `json:"total_steps"`
	Files      []string `json:"files_modified,omitempty"`
}

// Runner drives the ralph iteration loop. Each iteration runs the same
// task on a fresh agent conversation, with the context prefix carrying
// state forward.
type Runner struct {
	cfg      RunnerConfig
	cache    *ToolResultCache
	memory   *WorkingMemory
	cm       *ContextManager
	detector *Detector
	emitter  *event.Emitter
}

// NewRunner creates a Runner, opening the workspace working memory.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.WorkspaceDir == "" {
		return nil, fmt.Errorf("workspace directory is required")
	}
	cfg.Ralph = cfg.Ralph.withDefaults()

	memory, err := NewWorkingMemory(cfg.WorkspaceDir, cfg.Ralph.MemoryDir)
	if err != nil {
		return nil, err
	}
	cache := NewToolResultCache(cfg.Ralph.CacheSize)

	r := &Runner{
		cfg:      cfg,
		cache:    cache,
		memory:   memory,
		detector: NewDetector(cfg.Ralph),
		emitter:  event.NewEmitter(),
	}

	var summarizer Summarizer
	if cfg.UseSummarizer {
		summarizer = r.summarize
	}
	r.cm = NewContextManager(cache, memory, summarizer)
	return r, nil
}

// Emitter exposes the runner's emitter for iteration event handlers.
func (r *Runner) Emitter() *event.Emitter { return r.emitter }

// WorkingMemory exposes the runner's memory for inspection.
func (r *Runner) WorkingMemory() *WorkingMemory { return r.memory }

// ContextManager exposes the runner's context manager.
func (r *Runner) ContextManager() *ContextManager { return r.cm }

// Run executes the iteration loop for a task until a completion condition
// fires.
func (r *Runner) Run(ctx context.Context, task string) (*RunResult, error) {
	totalSteps := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		iteration, err := r.memory.IncrementIteration()
		if err != nil {
			return nil, err
		}
		if err := r.memory.ClearIterationFiles(); err != nil {
			return nil, err
		}

		if err := r.emitter.Emit(event.New(event.RalphIterationStart, 0, map[string]any{
			"iteration":      iteration,
			"max_iterations": r.cfg.Ralph.MaxIterations,
		})); err != nil {
			return nil, err
		}

		result, steps, err := r.runIteration(ctx, task, iteration)
		if err != nil {
			return nil, err
		}
		totalSteps += steps

		check := r.detector.Check(result, iteration, r.memory.FilesModified())

		if err := r.emitter.Emit(event.New(event.RalphIterationEnd, 0, map[string]any{
			"iteration": iteration,
			"completed": check.Completed,
			"reason":    string(check.Reason),
		})); err != nil {
			return nil, err
		}

		if check.Completed {
			if err := r.emitter.Emit(event.New(event.RalphCompletion, 0, map[string]any{
				"iteration": iteration,
				"reason":    string(check.Reason),
				"message":   check.Message,
			})); err != nil {
				return nil, err
			}
			slog.Info("Ralph loop completed",
				"iteration", iteration,
				"reason", string(check.Reason),
				"total_steps", totalSteps)

			files := make([]string, 0)
			for path := range r.memory.FilesModified() {
				files = append(files, path)
			}
			return &RunResult{
				Result:     result,
				Iterations: iteration,
				Reason:     string(check.Reason),
				Message:    check.Message,
				TotalSteps: totalSteps,
				Files:      files,
			}, nil
		}
	}
}

// runIteration runs one fresh agent conversation for the task.
func (r *Runner) runIteration(ctx context.Context, task string, iteration int) (string, int, error) {
	tools := make([]tool.Tool, 0, len(r.cfg.Tools)+4)
	tools = append(tools, r.cfg.Tools...)
	tools = append(tools, Tools(r.cm, r.memory)...)

	promptCfg := r.cfg.Prompt
	promptCfg.AdditionalContext = strings.TrimSpace(
		promptCfg.AdditionalContext + "\n" + r.buildRalphSection(task, iteration))

	iterAgent, err := agent.New(agent.Config{
		Name:         fmt.Sprintf("ralph_iter_%d", iteration),
		LLM:          r.cfg.LLM,
		Prompt:       promptCfg,
		Tools:        tools,
		MaxSteps:     r.cfg.MaxSteps,
		WorkspaceDir: r.cfg.WorkspaceDir,
		OnToolResult: func(execResult tool.ExecutionResult) string {
			return r.handleToolResult(ctx, execResult, iteration)
		},
		DisableLogging: true,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to create iteration agent: %w", err)
	}

	iterAgent.AddUserMessage(task)
	result, _, err := iterAgent.Run(ctx)
	if err != nil {
		return "", 0, err
	}

	state := iterAgent.State()
	r.cm.SummarizeIteration(ctx, iteration, transcript(state.Messages))
	return result, state.CurrentStep, nil
}

// handleToolResult records file modifications, caches the full output and
// returns the summary injected into the conversation.
func (r *Runner) handleToolResult(ctx context.Context, execResult tool.ExecutionResult, iteration int) string {
	if execResult.ToolName == "write_file" || execResult.ToolName == "edit_file" {
		path, _ := execResult.Arguments["file_path"].(string)
		if path == "" {
			path, _ = execResult.Arguments["path"].(string)
		}
		if path != "" {
			if err := r.memory.RecordFileModified(path); err != nil {
				slog.Warn("Failed to record modified file", "path", path, "error", err)
			}
		}
	}

	if !execResult.Result.Success {
		return ""
	}
	return r.cm.ProcessToolResult(ctx,
		execResult.ToolCallID,
		execResult.ToolName,
		execResult.Arguments,
		execResult.Result.Content,
		iteration)
}

func (r *Runner) buildRalphSection(task string, iteration int) string {
	return fmt.Sprintf(`## Ralph Mode (Iteration %d)

You are operating in Ralph iterative mode. Your task is:
%s

### Working Memory
%s

### Completion
When you have completed the task, use the `+"`signal_completion`"+` tool or output:
<promise>%s</promise>

### Guidelines
- Review the working memory for context from previous iterations
- Use `+"`update_working_memory`"+` to record progress and findings
- Use `+"`get_cached_result`"+` to retrieve full tool outputs when summaries are insufficient
- Focus on making incremental progress each iteration`,
		iteration, task, r.cm.BuildContextPrefix(), r.cfg.Ralph.CompletionPromise)
}

// summarize asks the model for a condensed version of content.
func (r *Runner) summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := r.cfg.LLM.Generate(ctx, []model.Message{
		model.NewSystemMessage("You are a concise summarizer. Reply with the summary only."),
		model.NewUserMessage(prompt),
	}, nil, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// transcript renders messages as "role: content" lines with content capped
// at 500 chars, for iteration summarization.
func transcript(messages []model.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		content := msg.Content
		if len(content) > 500 {
			content = content[:500]
		}
		b.WriteString(string(msg.Role) + ": " + content + "\n")
	}
	return strings.TrimSpace(b.String())
}
