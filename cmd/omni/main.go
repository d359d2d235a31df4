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

// Command omni is the CLI for the omni agent runtime.
//
// Usage:
//
//	omni run "summarize the README" --config omni.yaml
//	omni run "fix the failing build" --ralph
//	omni serve --config omni.yaml --port 8080
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	omni "github.com/kadirpekel/omni"
	"github.com/kadirpekel/omni/pkg/config"
	"github.com/kadirpekel/omni/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Run     RunCmd     `cmd:"" help:"Run a task with an agent."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println(omni.GetVersion())
	return nil
}

// loadConfig loads the config file when given, otherwise defaults.
func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config != "" {
		return config.Load(cli.Config)
	}
	return config.Default(), nil
}

// initLogger applies flag > env > config priority and returns a cleanup
// function for a log file, if any.
func initLogger(cli *CLI, cfg *config.Config) (func(), error) {
	level := firstNonEmpty(cli.LogLevel, os.Getenv("LOG_LEVEL"), cfg.Logger.Level)
	file := firstNonEmpty(cli.LogFile, os.Getenv("LOG_FILE"), cfg.Logger.File)
	format := firstNonEmpty(cli.LogFormat, os.Getenv("LOG_FORMAT"), cfg.Logger.Format)

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if file != "" {
		logFile, closeFile, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = logFile
		cleanup = closeFile
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("omni"),
		kong.Description("Omni - agent execution runtime"),
		kong.UsageOnError(),
	)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
