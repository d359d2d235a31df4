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

	"github.com/kadirpekel/omni/pkg/tool"
)

// UserInputToolName is the reserved tool name that pauses the loop for
// human input. A tool call with this name never executes; the loop
// intercepts it and transitions to StatusWaitingInput.
const UserInputToolName = "get_user_input"

// WaitingForUserInput is the sentinel Run returns while paused.
const WaitingForUserInput = "Waiting for user input"

// UserInputField describes one value the agent requests from the human.
type UserInputField struct {
	FieldName        string `json:"field_name"`
	FieldType        string `json:"field_type"`
	FieldDescription string `json:"field_description"`
}

// UserInputRequest is the structured pause payload built from a
// get_user_input tool call.
type UserInputRequest struct {
	Fields  []UserInputField `json:"fields"`
	Context string           `json:"context,omitempty"`
}

// UserInputTool is the schema-bearing declaration of get_user_input.
// Execute only returns a placeholder; control flow happens in the loop.
type UserInputTool struct{}

// NewUserInputTool creates the tool.
func NewUserInputTool() *UserInputTool { return &UserInputTool{} }

func (t *UserInputTool) Name() string { return UserInputToolName }

func (t *UserInputTool) Description() string {
	return "Request input from the user when information is missing or a decision is needed. " +
		"Execution pauses until the user responds."
}

func (t *UserInputTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_input_fields": map[string]any{
				"type":        "array",
				"description": "Fields to request from the user",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field_name": map[string]any{
							"type":        "string",
							"description": "Identifier of the requested value",
						},
						"field_type": map[string]any{
							"type":        "string",
							"enum":        []string{"str", "int", "float", "bool", "list", "dict"},
							"description": "Expected type of the value",
						},
						"field_description": map[string]any{
							"type":        "string",
							"description": "What to ask the user for",
						},
					},
					"required": []string{"field_name", "field_description"},
				},
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Why the input is needed",
			},
		},
		"required": []string{"user_input_fields"},
	}
}

func (t *UserInputTool) Instructions() string {
	return `## User Input (get_user_input) Usage Guidelines

Call get_user_input when you are missing information only the user can
provide (credentials, preferences, approvals). Describe each field clearly;
execution pauses until the user responds. Do not guess values you could ask
for instead.`
}

func (t *UserInputTool) AddInstructionsToPrompt() bool { return true }

// Execute returns a placeholder. The loop intercepts get_user_input calls
// before execution, so this only runs if the tool is invoked outside a loop.
func (t *UserInputTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	return tool.Ok("User input request registered. Waiting for user response."), nil
}

// ParseUserInputRequest builds a UserInputRequest from get_user_input
// arguments. Entries without a field_name are dropped; a missing field_type
// defaults to str.
func ParseUserInputRequest(args map[string]any) *UserInputRequest {
	req := &UserInputRequest{}
	if ctxVal, ok := args["context"].(string); ok {
		req.Context = ctxVal
	}
	rawFields, ok := args["user_input_fields"].([]any)
	if !ok {
		return req
	}
	for _, raw := range rawFields {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field := UserInputField{FieldType: "str"}
		if v, ok := entry["field_name"].(string); ok {
			field.FieldName = v
		}
		if v, ok := entry["field_type"].(string); ok && v != "" {
			field.FieldType = v
		}
		if v, ok := entry["field_description"].(string); ok {
			field.FieldDescription = v
		}
		if field.FieldName == "" {
			continue
		}
		req.Fields = append(req.Fields, field)
	}
	return req
}

var (
	_ tool.Tool       = (*UserInputTool)(nil)
	_ tool.Instructed = (*UserInputTool)(nil)
)
