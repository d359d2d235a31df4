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

// Package agent implements the execution core: the state machine, the
// event-emitting step loop, hooks, the structured prompt builder and the
// Agent façade that composes them.
package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/omni/pkg/checkpoint"
	"github.com/kadirpekel/omni/pkg/event"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/observability"
	"github.com/kadirpekel/omni/pkg/token"
	"github.com/kadirpekel/omni/pkg/tool"
)

// Config assembles an Agent.
type Config struct {
	// Name identifies the agent in prompts, logs and metrics.
	Name string

	// LLM is the model client (required).
	LLM llm.Client

	// Tools are the capabilities exposed to the model.
	Tools []tool.Tool

	// Prompt declares the structured system prompt.
	Prompt PromptConfig

	// Skills optionally injects the progressive-disclosure skills block.
	Skills SkillMetadataProvider

	// WorkspaceDir is created if missing and advertised in the prompt.
	WorkspaceDir string

	// MaxSteps bounds each run. Zero selects DefaultMaxSteps.
	MaxSteps int

	// ParallelTools enables concurrent execution of tool batches.
	ParallelTools bool

	// ToolOutputLimit truncates tool output; zero selects the default.
	ToolOutputLimit int

	// TokenLimit and EnableSummarization configure history compaction.
	TokenLimit          int
	EnableSummarization bool

	// Hooks intercept the run lifecycle in priority order.
	Hooks []Hook

	// Checkpoint and Store enable snapshot persistence; ThreadID keys the
	// snapshots.
	Checkpoint checkpoint.Config
	Store      checkpoint.Store
	ThreadID   string

	// Metadata is forwarded to every LLM call.
	Metadata llm.Metadata

	// OnToolResult intercepts every tool result in call order. A non-empty
	// return replaces the tool message content seen by the model.
	OnToolResult func(tool.ExecutionResult) string

	// EnableLogging collects execution log entries (on by default via
	// New; transient agents such as team members disable it).
	DisableLogging bool

	// EnableMetrics attaches Prometheus collectors to the emitter.
	EnableMetrics bool

	// Tracer overrides the default runtime tracer.
	Tracer trace.Tracer
}

// Agent is the façade composing state, tools, tokens, events and the loop.
type Agent struct {
	name     string
	cfg      Config
	registry *tool.Registry
	emitter  *event.Emitter
	state    *State
	loop     *Loop
	log      *executionLog
	tracer   trace.Tracer
}

// New creates an Agent, building its system prompt and wiring the loop.
func New(cfg Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	name := cfg.Name
	if name == "" {
		name = "agent"
	}

	if cfg.WorkspaceDir != "" {
		if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	registry, err := tool.NewRegistry(cfg.Tools...)
	if err != nil {
		return nil, err
	}

	promptCfg := cfg.Prompt
	if promptCfg.Name == "" {
		promptCfg.Name = cfg.Name
	}
	if cfg.WorkspaceDir != "" {
		promptCfg.AddWorkspaceInfo = true
	}
	systemPrompt := BuildSystemPrompt(promptCfg, cfg.WorkspaceDir, cfg.Skills, tool.PromptInstructions(cfg.Tools))

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	state := NewState(systemPrompt, maxSteps)
	state.ThreadID = cfg.ThreadID

	emitter := event.NewEmitter()
	log := &executionLog{}
	if !cfg.DisableLogging {
		log.attach(emitter)
	}
	if cfg.EnableMetrics {
		observability.AttachMetrics(emitter, name)
	}

	tokens := token.NewManager(cfg.LLM, token.Config{
		TokenLimit:          cfg.TokenLimit,
		EnableSummarization: cfg.EnableSummarization,
	})
	executor := tool.NewExecutor(registry, tool.ExecutorConfig{
		Parallel:    cfg.ParallelTools,
		OutputLimit: cfg.ToolOutputLimit,
	})

	loop, err := NewLoop(cfg.LLM, cfg.Tools, executor, tokens, emitter,
		NewHookManager(cfg.Hooks...), state, LoopConfig{
			AgentID:      name,
			MaxSteps:     maxSteps,
			Checkpoint:   cfg.Checkpoint,
			Store:        cfg.Store,
			Metadata:     cfg.Metadata,
			OnToolResult: cfg.OnToolResult,
		})
	if err != nil {
		return nil, err
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}

	return &Agent{
		name:     name,
		cfg:      cfg,
		registry: registry,
		emitter:  emitter,
		state:    state,
		loop:     loop,
		log:      log,
		tracer:   tracer,
	}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// State returns the agent's state. Callers must not mutate it while a run
// is in flight.
func (a *Agent) State() *State { return a.state }

// Emitter exposes the event emitter for custom handler registration.
func (a *Agent) Emitter() *event.Emitter { return a.emitter }

// AddUserMessage appends a user message to the conversation.
func (a *Agent) AddUserMessage(content string) {
	a.state.Append(model.NewUserMessage(content))
}

// Run executes the agent until completion, pause, or error. Returns the
// final text (or sentinel/error string) plus the chronological execution
// log.
func (a *Agent) Run(ctx context.Context) (string, []LogEntry, error) {
	a.log.reset()

	ctx, span := a.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("agent.name", a.name)))
	defer span.End()

	result, err := a.loop.Run(ctx)
	a.finishSpan(span)
	if err != nil {
		return "", a.log.entries, err
	}
	slog.Debug("Agent run finished",
		"agent", a.name,
		"status", a.state.Status,
		"steps", a.state.CurrentStep)
	return result, a.log.entries, nil
}

// RunStream executes the agent, yielding incremental events.
func (a *Agent) RunStream(ctx context.Context) iter.Seq2[*StreamEvent, error] {
	a.log.reset()
	return a.loop.RunStream(ctx)
}

// ProvideUserInput answers a pending get_user_input pause.
func (a *Agent) ProvideUserInput(values map[string]any) error {
	return a.loop.ProvideUserInput(values)
}

// PendingUserInput returns the pause payload while waiting for input.
func (a *Agent) PendingUserInput() *UserInputRequest {
	return a.state.PendingUserInput
}

// Resume continues a paused or restored run.
func (a *Agent) Resume(ctx context.Context) (string, []LogEntry, error) {
	ctx, span := a.tracer.Start(ctx, "agent.resume",
		trace.WithAttributes(attribute.String("agent.name", a.name)))
	defer span.End()

	result, err := a.loop.Resume(ctx)
	a.finishSpan(span)
	if err != nil {
		return "", a.log.entries, err
	}
	return result, a.log.entries, nil
}

// ResumeFromCheckpoint replaces the agent's state with a checkpoint
// snapshot and continues the run from the recorded step.
func (a *Agent) ResumeFromCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) (string, []LogEntry, error) {
	if cp == nil {
		return "", nil, fmt.Errorf("checkpoint is required")
	}
	restored := StateFromCheckpoint(cp, a.state.MaxSteps)
	a.state = restored

	loop, err := NewLoop(a.cfg.LLM, a.cfg.Tools, a.loop.executor, a.loop.tokens,
		a.emitter, a.loop.hooks, restored, a.loop.cfg)
	if err != nil {
		return "", nil, err
	}
	a.loop = loop

	slog.Info("Resuming from checkpoint",
		"agent", a.name,
		"checkpoint_id", cp.ID,
		"step", cp.Step)
	return a.Resume(ctx)
}

func (a *Agent) finishSpan(span trace.Span) {
	span.SetAttributes(
		attribute.String("agent.status", string(a.state.Status)),
		attribute.Int("agent.steps", a.state.CurrentStep),
		attribute.Int("agent.input_tokens", a.state.TotalInputTokens),
		attribute.Int("agent.output_tokens", a.state.TotalOutputTokens),
	)
}
