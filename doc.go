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

// Package omni is an agent execution runtime for tool-using LLM agents.
//
// The core is a bounded step loop (pkg/agent) that drives an LLM through
// tool calls with checkpointing, human-in-the-loop pauses and token-budget
// summarization. On top of it sit multi-agent teams with delegation and
// dependency DAGs (pkg/team), iterative autonomous execution with working
// memory (pkg/ralph), and state-graph workflows (pkg/graph).
//
// A minimal programmatic agent:
//
//	client := openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
//	tools, _ := builtin.FileTools(".")
//	a, _ := agent.New(agent.Config{LLM: client, Tools: tools})
//	a.AddUserMessage("list the Go files in this repository")
//	result, _, err := a.Run(ctx)
//
// The omni command wraps the same runtime behind a CLI and an HTTP API;
// see cmd/omni and pkg/server.
package omni
