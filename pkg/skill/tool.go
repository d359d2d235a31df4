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

package skill

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/omni/pkg/tool"
)

// GetSkillToolName is the reserved progressive-disclosure tool name.
const GetSkillToolName = "get_skill"

// GetSkillTool resolves a skill name to its full content.
type GetSkillTool struct {
	loader *Loader
}

var _ tool.Tool = (*GetSkillTool)(nil)

// NewGetSkillTool creates the tool bound to a loader.
func NewGetSkillTool(loader *Loader) *GetSkillTool {
	return &GetSkillTool{loader: loader}
}

func (t *GetSkillTool) Name() string { return GetSkillToolName }

func (t *GetSkillTool) Description() string {
	return "Get complete content and guidance for a specified skill, used for executing specific types of tasks"
}

func (t *GetSkillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"skill_name": map[string]any{
				"type":        "string",
				"description": "Name of the skill to retrieve (use the skill names from the Available Skills list in your system prompt)",
			},
		},
		"required": []string{"skill_name"},
	}
}

func (t *GetSkillTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	name, _ := args["skill_name"].(string)
	skill, ok := t.loader.Get(name)
	if !ok {
		return tool.Fail(fmt.Sprintf("Skill '%s' does not exist. Available skills: %s",
			name, strings.Join(t.loader.Names(), ", "))), nil
	}
	return tool.Ok(skill.ToPrompt()), nil
}
