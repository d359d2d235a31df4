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

// Package functiontool creates tools from typed Go functions.
//
// The argument schema is generated from struct tags, giving compile-time
// type safety without hand-written JSON Schema:
//
//	type EchoArgs struct {
//	    Msg string `json:"msg" jsonschema:"required,description=Text to echo"`
//	}
//
//	echo, err := functiontool.New(
//	    functiontool.Config{Name: "echo", Description: "Echo a message"},
//	    func(ctx context.Context, args EchoArgs) (*tool.Result, error) {
//	        return tool.Ok(args.Msg), nil
//	    },
//	)
//
// For tools with dynamic schemas or internal state, implement tool.Tool
// directly instead.
package functiontool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/omni/pkg/tool"
)

// Config defines the identity of a function tool.
type Config struct {
	// Name is the unique tool name (required).
	Name string

	// Description explains what the tool does (required).
	Description string

	// Instructions optionally contributes usage guidance to the system
	// prompt when AddInstructions is set.
	Instructions    string
	AddInstructions bool
}

// New creates a tool from a typed function. The schema for Args is derived
// from its json and jsonschema struct tags.
func New[Args any](cfg Config, fn func(context.Context, Args) (*tool.Result, error)) (tool.Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{config: cfg, fn: fn, schema: schema}, nil
}

type functionTool[Args any] struct {
	config Config
	fn     func(context.Context, Args) (*tool.Result, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string                  { return t.config.Name }
func (t *functionTool[Args]) Description() string           { return t.config.Description }
func (t *functionTool[Args]) Parameters() map[string]any    { return t.schema }
func (t *functionTool[Args]) Instructions() string          { return t.config.Instructions }
func (t *functionTool[Args]) AddInstructionsToPrompt() bool { return t.config.AddInstructions }

func (t *functionTool[Args]) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}
	return t.fn(ctx, typed)
}

// Compile-time interface checks.
var (
	_ tool.Tool       = (*functionTool[struct{}])(nil)
	_ tool.Instructed = (*functionTool[struct{}])(nil)
)
