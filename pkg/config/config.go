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

// Package config loads the runtime's YAML configuration. Strings may
// reference environment variables (${VAR}, ${VAR:-default}, $VAR); values
// are expanded before decoding so secrets stay out of config files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/omni/pkg/checkpoint"
)

// Config is the root configuration document.
type Config struct {
	Logger LoggerConfig `yaml:"logger,omitempty"`
	LLM    LLMConfig    `yaml:"llm,omitempty"`
	Agent  AgentConfig  `yaml:"agent,omitempty"`
	Team   *TeamConfig  `yaml:"team,omitempty"`
	Ralph  *RalphConfig `yaml:"ralph,omitempty"`
	Server ServerConfig `yaml:"server,omitempty"`
}

// Load reads, env-expands, decodes and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Decode loosely first so env expansion sees every string value.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	expanded, err := yaml.Marshal(ExpandEnvVarsInData(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a ready-to-use config without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.LLM.SetDefaults()
	c.Agent.SetDefaults()
	if c.Team != nil {
		c.Team.SetDefaults()
	}
	if c.Ralph != nil {
		c.Ralph.SetDefaults()
	}
	c.Server.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if c.Team != nil {
		if err := c.Team.Validate(); err != nil {
			return fmt.Errorf("team: %w", err)
		}
	}
	if c.Ralph != nil {
		if err := c.Ralph.Validate(); err != nil {
			return fmt.Errorf("ralph: %w", err)
		}
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// LoggerConfig configures logging.
//
// Example:
//
//	logger:
//	  level: info
//	  file: omni.log
//	  format: simple
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`

	// File is the log file path; empty logs to stderr.
	File string `yaml:"file,omitempty"`

	// Format is "simple" (level + message) or "verbose". Default: simple.
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	// Provider is "openai" or any OpenAI-compatible endpoint. Default: openai.
	Provider string `yaml:"provider,omitempty"`

	// Model name, e.g. "gpt-4o". Default: gpt-4o.
	Model string `yaml:"model,omitempty"`

	// APIKey; falls back to the provider's conventional env variable.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL of the API. Default: https://api.openai.com/v1.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for sampling. Default: 0.7.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens per completion. Default: 4096.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout in seconds per request. Default: 120.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries on rate limits and server errors. Default: 3.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay base in seconds for backoff. Default: 2.
	RetryDelay int `yaml:"retry_delay,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.Provider)
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

func (c *LLMConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature %v out of range [0, 2]", *c.Temperature)
	}
	return nil
}

// AgentConfig configures the default agent.
type AgentConfig struct {
	Name         string   `yaml:"name,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Role         string   `yaml:"role,omitempty"`
	Instructions []string `yaml:"instructions,omitempty"`

	// Markdown enables output formatting guidance in the prompt.
	Markdown bool `yaml:"markdown,omitempty"`

	// WorkspaceDir is created if missing. Default: current directory.
	WorkspaceDir string `yaml:"workspace_dir,omitempty"`

	// SkillsDir enables skill discovery when set.
	SkillsDir string `yaml:"skills_dir,omitempty"`

	// WatchSkills hot-reloads skills on file changes.
	WatchSkills bool `yaml:"watch_skills,omitempty"`

	// MaxSteps bounds the reasoning loop. Default: 20.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// ParallelTools executes tool batches concurrently.
	ParallelTools bool `yaml:"parallel_tools,omitempty"`

	// ToolOutputLimit truncates tool output at this many chars. Default: 10000.
	ToolOutputLimit int `yaml:"tool_output_limit,omitempty"`

	// TokenLimit triggers conversation summarization. 0 disables.
	TokenLimit int `yaml:"token_limit,omitempty"`

	// EnableSummarization allows the loop to compact old messages.
	EnableSummarization bool `yaml:"enable_summarization,omitempty"`

	// EnableMetrics registers Prometheus collectors for this agent.
	EnableMetrics bool `yaml:"enable_metrics,omitempty"`

	// Checkpoint controls execution snapshots.
	Checkpoint checkpoint.Config `yaml:"checkpoint,omitempty"`

	// CheckpointDir is the file store root. Default: .omni/checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "agent"
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = "."
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 20
	}
	if c.ToolOutputLimit == 0 {
		c.ToolOutputLimit = 10000
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = ".omni/checkpoints"
	}
}

func (c *AgentConfig) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	return nil
}

// TeamMemberConfig declares one team member.
type TeamMemberConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role,omitempty"`
	Tools        []string `yaml:"tools,omitempty"`
	Instructions string   `yaml:"instructions,omitempty"`
}

// TeamConfig configures multi-agent collaboration.
type TeamConfig struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Members     []TeamMemberConfig `yaml:"members"`

	// DelegateToAll broadcasts tasks to every member instead of routing.
	DelegateToAll bool `yaml:"delegate_to_all,omitempty"`

	LeaderInstructions string `yaml:"leader_instructions,omitempty"`

	// MaxSteps bounds the leader loop. Default: 20.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// MemberMaxSteps bounds each member run. Default: 10.
	MemberMaxSteps int `yaml:"member_max_steps,omitempty"`

	EnableSpawnAgent bool `yaml:"enable_spawn_agent,omitempty"`
	SpawnMaxDepth    int  `yaml:"spawn_max_depth,omitempty"`
}

func (c *TeamConfig) SetDefaults() {
	if c.MaxSteps == 0 {
		c.MaxSteps = 20
	}
	if c.MemberMaxSteps == 0 {
		c.MemberMaxSteps = 10
	}
}

func (c *TeamConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("at least one member is required")
	}
	seen := make(map[string]bool, len(c.Members))
	for _, m := range c.Members {
		if m.ID == "" {
			return fmt.Errorf("member id is required")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate member id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// RalphConfig configures iterative autonomous execution.
type RalphConfig struct {
	// MaxIterations bounds the outer loop. Default: 20.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// CompletionPromise is the phrase that signals success. Default: TASK COMPLETE.
	CompletionPromise string `yaml:"completion_promise,omitempty"`

	// IdleThreshold stops after this many iterations without file changes.
	// Default: 3.
	IdleThreshold int `yaml:"idle_threshold,omitempty"`

	// MemoryDir under the workspace for persisted memory. Default: .ralph.
	MemoryDir string `yaml:"memory_dir,omitempty"`

	// CacheSize bounds the tool-result cache. Default: 100.
	CacheSize int `yaml:"cache_size,omitempty"`

	// UseSummarizer compresses tool results through the LLM.
	UseSummarizer bool `yaml:"use_summarizer,omitempty"`
}

func (c *RalphConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 20
	}
	if c.CompletionPromise == "" {
		c.CompletionPromise = "TASK COMPLETE"
	}
	if c.IdleThreshold == 0 {
		c.IdleThreshold = 3
	}
	if c.MemoryDir == "" {
		c.MemoryDir = ".ralph"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 100
	}
}

func (c *RalphConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	return nil
}

// StorageBackend identifies a persistence backend.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageSQLite StorageBackend = "sqlite"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Host to bind. Default: 0.0.0.0.
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8080.
	Port int `yaml:"port,omitempty"`

	// Sessions selects conversation persistence.
	Sessions StorageBackend `yaml:"sessions,omitempty"`

	// SessionsPath is the SQLite database path when Sessions is "sqlite".
	SessionsPath string `yaml:"sessions_path,omitempty"`

	// SessionTTL is session idle expiry in seconds. 0 keeps sessions forever.
	SessionTTL int `yaml:"session_ttl,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Sessions == "" {
		c.Sessions = StorageMemory
	}
	if c.Sessions == StorageSQLite && c.SessionsPath == "" {
		c.SessionsPath = ".omni/sessions.db"
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Sessions {
	case "", StorageMemory, StorageSQLite:
		return nil
	}
	return fmt.Errorf("invalid sessions backend %q (valid: memory, sqlite)", c.Sessions)
}
