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
	"fmt"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/checkpoint"
	"github.com/kadirpekel/omni/pkg/config"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/llm/openai"
	"github.com/kadirpekel/omni/pkg/session"
	"github.com/kadirpekel/omni/pkg/skill"
	"github.com/kadirpekel/omni/pkg/tool"
	"github.com/kadirpekel/omni/pkg/tool/builtin"
)

// buildClient creates the LLM client from config.
func buildClient(cfg *config.Config) (llm.Client, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured (set api_key or %s_API_KEY)", envPrefix(cfg.LLM.Provider))
	}
	return openai.New(openai.Config{
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
	}), nil
}

func envPrefix(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC"
	default:
		return "OPENAI"
	}
}

// toolset assembles the agent's tools plus optional skills support.
type toolset struct {
	tools   []tool.Tool
	skills  agent.SkillMetadataProvider
	cleanup func()
}

// buildToolset wires the filesystem tools, the user-input tool and, when a
// skills directory is configured, skill discovery with the get_skill tool.
func buildToolset(cfg *config.Config) (*toolset, error) {
	tools, err := builtin.FileTools(cfg.Agent.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	tools = append(tools, agent.NewUserInputTool())

	ts := &toolset{tools: tools, cleanup: func() {}}

	if cfg.Agent.SkillsDir != "" {
		loader := skill.NewLoader(cfg.Agent.SkillsDir)
		if _, err := loader.Discover(); err != nil {
			return nil, err
		}
		ts.tools = append(ts.tools, skill.NewGetSkillTool(loader))
		ts.skills = loader

		if cfg.Agent.WatchSkills {
			watcher, err := skill.NewWatcher(loader)
			if err != nil {
				return nil, fmt.Errorf("failed to watch skills directory: %w", err)
			}
			ts.cleanup = func() { watcher.Close() }
		}
	}

	return ts, nil
}

// buildCheckpointStore opens the file store when checkpointing is enabled.
func buildCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	if !cfg.Agent.Checkpoint.Enabled {
		return nil, nil
	}
	return checkpoint.NewFileStore(cfg.Agent.CheckpointDir)
}

// buildSessionManager opens the configured session backend.
func buildSessionManager(cfg *config.Config) (*session.Manager, error) {
	switch cfg.Server.Sessions {
	case config.StorageSQLite:
		store, err := session.NewSQLiteStore(cfg.Server.SessionsPath)
		if err != nil {
			return nil, err
		}
		return session.NewManager(store), nil
	default:
		return session.NewManager(session.NewMemoryStore()), nil
	}
}

// agentConfig maps the config file onto an agent assembly.
func agentConfig(cfg *config.Config, client llm.Client, ts *toolset, store checkpoint.Store, threadID string) agent.Config {
	return agent.Config{
		Name: cfg.Agent.Name,
		LLM:  client,
		Prompt: agent.PromptConfig{
			Name:         cfg.Agent.Name,
			Description:  cfg.Agent.Description,
			Role:         cfg.Agent.Role,
			Instructions: cfg.Agent.Instructions,
			Markdown:     cfg.Agent.Markdown,
			AddDatetime:  true,
		},
		Tools:               ts.tools,
		Skills:              ts.skills,
		WorkspaceDir:        cfg.Agent.WorkspaceDir,
		MaxSteps:            cfg.Agent.MaxSteps,
		ParallelTools:       cfg.Agent.ParallelTools,
		ToolOutputLimit:     cfg.Agent.ToolOutputLimit,
		TokenLimit:          cfg.Agent.TokenLimit,
		EnableSummarization: cfg.Agent.EnableSummarization,
		EnableMetrics:       cfg.Agent.EnableMetrics,
		Checkpoint:          cfg.Agent.Checkpoint,
		Store:               store,
		ThreadID:            threadID,
	}
}
