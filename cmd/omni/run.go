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

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/config"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/observability"
	"github.com/kadirpekel/omni/pkg/ralph"
)

// RunCmd executes a single task.
type RunCmd struct {
	Task string `arg:"" help:"Task for the agent."`

	Stream  bool `default:"true" negatable:"" help:"Stream output as it is generated (use --no-stream to disable)."`
	Ralph   bool `help:"Run in iterative ralph mode until the task completes."`
	Spawn   bool `help:"Allow the agent to spawn sub-agents."`
	Observe bool `help:"Enable stdout trace export."`

	Thread string `help:"Thread id for checkpointing and resume."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	cleanup, err := initLogger(cli, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Interrupted, shutting down")
		cancel()
	}()

	if c.Observe {
		shutdown, err := observability.InitTracer(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("Trace shutdown failed", "error", err)
			}
		}()
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	ts, err := buildToolset(cfg)
	if err != nil {
		return err
	}
	defer ts.cleanup()

	if c.Ralph {
		return c.runRalph(ctx, cfg, client, ts)
	}
	return c.runAgent(ctx, cfg, client, ts)
}

func (c *RunCmd) runAgent(ctx context.Context, cfg *config.Config, client llm.Client, ts *toolset) error {
	store, err := buildCheckpointStore(cfg)
	if err != nil {
		return err
	}

	acfg := agentConfig(cfg, client, ts, store, c.Thread)
	if c.Spawn {
		spawnTool, err := agent.NewSpawnTool(agent.SpawnConfig{
			LLM:          client,
			ParentTools:  ts.tools,
			WorkspaceDir: cfg.Agent.WorkspaceDir,
		})
		if err != nil {
			return err
		}
		acfg.Tools = append(acfg.Tools, spawnTool)
	}

	a, err := agent.New(acfg)
	if err != nil {
		return err
	}
	a.AddUserMessage(c.Task)

	if c.Stream {
		return streamToStdout(ctx, a)
	}

	for {
		result, _, err := a.Run(ctx)
		if err != nil {
			return err
		}
		if a.State().Status != agent.StatusWaitingInput {
			fmt.Println(result)
			return nil
		}
		if err := answerUserInput(a); err != nil {
			return err
		}
		result, _, err = a.Resume(ctx)
		if err != nil {
			return err
		}
		if a.State().Status != agent.StatusWaitingInput {
			fmt.Println(result)
			return nil
		}
	}
}

func (c *RunCmd) runRalph(ctx context.Context, cfg *config.Config, client llm.Client, ts *toolset) error {
	rcfg := ralph.Config{}
	if cfg.Ralph != nil {
		rcfg = ralph.Config{
			MaxIterations:     cfg.Ralph.MaxIterations,
			CompletionPromise: cfg.Ralph.CompletionPromise,
			IdleThreshold:     cfg.Ralph.IdleThreshold,
			MemoryDir:         cfg.Ralph.MemoryDir,
			CacheSize:         cfg.Ralph.CacheSize,
		}
	}

	runner, err := ralph.NewRunner(ralph.RunnerConfig{
		Ralph:        rcfg,
		LLM:          client,
		Tools:        ts.tools,
		WorkspaceDir: cfg.Agent.WorkspaceDir,
		Prompt: agent.PromptConfig{
			Name:         cfg.Agent.Name,
			Description:  cfg.Agent.Description,
			Role:         cfg.Agent.Role,
			Instructions: cfg.Agent.Instructions,
		},
		MaxSteps:      cfg.Agent.MaxSteps,
		UseSummarizer: cfg.Ralph != nil && cfg.Ralph.UseSummarizer,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, c.Task)
	if err != nil {
		return err
	}
	fmt.Println(result.Result)
	fmt.Printf("\n[%s after %d iterations: %s]\n", result.Reason, result.Iterations, result.Message)
	return nil
}

// streamToStdout prints deltas as they arrive, answering user-input pauses
// interactively.
func streamToStdout(ctx context.Context, a *agent.Agent) error {
	for {
		paused := false
		for ev, err := range a.RunStream(ctx) {
			if err != nil {
				return err
			}
			switch ev.Type {
			case agent.StreamContent:
				fmt.Print(ev.Data["delta"])
			case agent.StreamToolCall:
				fmt.Printf("\n[tool: %v]\n", ev.Data["name"])
			case agent.StreamUserInputRequired:
				paused = true
			case agent.StreamError:
				fmt.Printf("\n%v\n", ev.Data["message"])
			case agent.StreamDone:
				fmt.Println()
			}
		}
		if !paused {
			return nil
		}
		if err := answerUserInput(a); err != nil {
			return err
		}
	}
}

// answerUserInput prompts on stdin for each requested field.
func answerUserInput(a *agent.Agent) error {
	req := a.PendingUserInput()
	if req == nil {
		return fmt.Errorf("no pending user input request")
	}
	if req.Context != "" {
		fmt.Printf("\n%s\n", req.Context)
	}

	reader := bufio.NewReader(os.Stdin)
	values := make(map[string]any, len(req.Fields))
	for _, field := range req.Fields {
		fmt.Printf("%s (%s): ", field.FieldName, field.FieldDescription)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		values[field.FieldName] = strings.TrimSpace(line)
	}
	return a.ProvideUserInput(values)
}
