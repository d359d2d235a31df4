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

package graph

import (
	"context"
	"fmt"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/tool"
)

// AgentNodeConfig maps an agent run onto graph state keys.
type AgentNodeConfig struct {
	// InputKey holds the task text. Default "input".
	InputKey string

	// OutputKey receives the agent's final text. Default "output".
	OutputKey string

	// HistoryKey, when set, receives user/assistant message records; pair
	// it with AppendReducer to accumulate across nodes.
	HistoryKey string
}

// AgentNode wraps an agent as a node function. The agent keeps its
// conversation between invocations of the same node.
func AgentNode(a *agent.Agent, cfg AgentNodeConfig) NodeFunc {
	if cfg.InputKey == "" {
		cfg.InputKey = "input"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}
	return func(ctx context.Context, state State) (State, error) {
		input, _ := state[cfg.InputKey].(string)
		if input == "" {
			return nil, fmt.Errorf("agent node requires a %q state key", cfg.InputKey)
		}

		a.AddUserMessage(input)
		result, _, err := a.Run(ctx)
		if err != nil {
			return nil, err
		}

		update := State{cfg.OutputKey: result}
		if cfg.HistoryKey != "" {
			update[cfg.HistoryKey] = []any{
				map[string]any{"role": "user", "content": input},
				map[string]any{"role": "assistant", "content": result},
			}
		}
		return update, nil
	}
}

// ToolNodeConfig maps a tool execution onto graph state keys.
type ToolNodeConfig struct {
	// ArgsKey holds the tool arguments map. Default "args".
	ArgsKey string

	// OutputKey receives the tool output. Default "output".
	OutputKey string
}

// ToolNode wraps a tool as a node function. A failed tool result becomes a
// node error.
func ToolNode(t tool.Tool, cfg ToolNodeConfig) NodeFunc {
	if cfg.ArgsKey == "" {
		cfg.ArgsKey = "args"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "output"
	}
	return func(ctx context.Context, state State) (State, error) {
		args, _ := state[cfg.ArgsKey].(map[string]any)
		result, err := t.Execute(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("tool node %s: %w", t.Name(), err)
		}
		if !result.Success {
			return nil, fmt.Errorf("tool node %s failed: %s", t.Name(), result.Error)
		}
		return State{cfg.OutputKey: result.Content}, nil
	}
}

// NewRouter builds a condition function reading a state key and mapping
// its value through routeMap. Unmapped values fall back to defaultTarget,
// or END when defaultTarget is empty.
func NewRouter(conditionKey string, routeMap map[string]string, defaultTarget string) ConditionFunc {
	if defaultTarget == "" {
		defaultTarget = END
	}
	return func(state State) string {
		value := fmt.Sprint(state[conditionKey])
		if target, ok := routeMap[value]; ok {
			return target
		}
		return defaultTarget
	}
}
