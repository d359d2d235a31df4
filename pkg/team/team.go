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

// Package team orchestrates multi-agent collaboration in a leader-member
// pattern. The leader delegates through a dynamically constructed tool;
// members run as transient agents with filtered tool sets. A dependency
// mode executes a task DAG in topologically sorted concurrent layers.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/observability"
	"github.com/kadirpekel/omni/pkg/session"
	"github.com/kadirpekel/omni/pkg/tool"
)

// Reserved delegation tool names.
const (
	DelegateToolName    = "delegate_task_to_member"
	DelegateAllToolName = "delegate_task_to_all_members"
)

// DefaultMemberMaxSteps bounds each member run.
const DefaultMemberMaxSteps = 10

// MemberConfig declares one team member.
type MemberConfig struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Role         string   `json:"role" yaml:"role"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Config declares a team.
type Config struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Members     []MemberConfig `json:"members" yaml:"members"`

	// DelegateToAll switches the leader's tool to broadcast mode.
	DelegateToAll bool `json:"delegate_to_all,omitempty" yaml:"delegate_to_all,omitempty"`

	// LeaderInstructions customizes the leader prompt.
	LeaderInstructions string `json:"leader_instructions,omitempty" yaml:"leader_instructions,omitempty"`

	// MaxSteps bounds the leader run. Zero selects the agent default.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`

	// MemberMaxSteps bounds member runs. Zero selects DefaultMemberMaxSteps.
	MemberMaxSteps int `json:"member_max_steps,omitempty" yaml:"member_max_steps,omitempty"`

	WorkspaceDir string `json:"workspace_dir,omitempty" yaml:"workspace_dir,omitempty"`

	// EnableSpawnAgent lets members that declare spawn_agent nest
	// sub-agents.
	EnableSpawnAgent bool `json:"enable_spawn_agent,omitempty" yaml:"enable_spawn_agent,omitempty"`
	SpawnMaxDepth    int  `json:"spawn_max_depth,omitempty" yaml:"spawn_max_depth,omitempty"`
}

// MemberRunResult records one delegated member execution.
type MemberRunResult struct {
	MemberName string         `json:"member_name"`
	MemberRole string         `json:"member_role"`
	Task       string         `json:"task"`
	Response   string         `json:"response"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Steps      int            `json:"steps"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunResponse is the standard-mode result.
type RunResponse struct {
	Success    bool              `json:"success"`
	TeamName   string            `json:"team_name"`
	Message    string            `json:"message"`
	MemberRuns []MemberRunResult `json:"member_runs"`
	TotalSteps int               `json:"total_steps"`
	Iterations int               `json:"iterations"`
	Metadata   map[string]any    `json:"metadata"`
}

// RunOptions carries per-run identity.
type RunOptions struct {
	SessionID string
	UserID    string

	// NumHistoryRuns bounds the previous_interactions block. Zero selects 3.
	NumHistoryRuns int
}

// Team coordinates a leader agent and its members.
type Team struct {
	cfg      Config
	client   llm.Client
	tools    []tool.Tool
	sessions *session.Manager
	tracer   trace.Tracer

	mu         sync.Mutex
	memberRuns []MemberRunResult
}

// New creates a Team. The sessions manager is optional; without it the
// leader runs without conversation continuity.
func New(cfg Config, client llm.Client, tools []tool.Tool, sessions *session.Manager) (*Team, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("team name is required")
	}
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("team requires at least one member")
	}
	seen := make(map[string]bool, len(cfg.Members))
	for _, member := range cfg.Members {
		if member.ID == "" {
			return nil, fmt.Errorf("member id is required")
		}
		if seen[member.ID] {
			return nil, fmt.Errorf("duplicate member id: %s", member.ID)
		}
		seen[member.ID] = true
	}
	if cfg.MemberMaxSteps <= 0 {
		cfg.MemberMaxSteps = DefaultMemberMaxSteps
	}
	return &Team{
		cfg:      cfg,
		client:   client,
		tools:    tools,
		sessions: sessions,
		tracer:   observability.Tracer(),
	}, nil
}

// Run executes the team in standard mode: the leader analyzes the message
// and delegates through its delegation tool.
func (t *Team) Run(ctx context.Context, message string, opts RunOptions) (*RunResponse, error) {
	t.mu.Lock()
	t.memberRuns = nil
	t.mu.Unlock()

	runID := uuid.NewString()
	sessionID := opts.SessionID
	numHistory := opts.NumHistoryRuns
	if numHistory <= 0 {
		numHistory = 3
	}

	ctx, span := t.tracer.Start(ctx, "team.run",
		trace.WithAttributes(
			attribute.String("team.name", t.cfg.Name),
			attribute.Int("team.members", len(t.cfg.Members)),
		))
	defer span.End()
	traceID := span.SpanContext().TraceID().String()

	historyContext := ""
	if t.sessions != nil && sessionID != "" {
		history, err := t.sessions.History(ctx, sessionID, numHistory*2)
		if err != nil {
			return nil, fmt.Errorf("failed to load session history: %w", err)
		}
		historyContext = formatHistory(history)
	}

	var delegate tool.Tool
	if t.cfg.DelegateToAll {
		delegate = &delegateAllTool{team: t, ctxSessionID: sessionID}
	} else {
		delegate = &delegateTool{team: t, ctxSessionID: sessionID}
	}

	leader, err := agent.New(agent.Config{
		Name: t.cfg.Name + "_leader",
		LLM:  t.client,
		Prompt: agent.PromptConfig{
			AdditionalContext: t.buildLeaderSystemPrompt(historyContext),
		},
		Tools:        []tool.Tool{delegate},
		MaxSteps:     t.cfg.MaxSteps,
		WorkspaceDir: t.cfg.WorkspaceDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create leader agent: %w", err)
	}

	leader.AddUserMessage(message)
	response, _, err := leader.Run(ctx)
	if err != nil {
		return nil, err
	}

	state := leader.State()
	leaderSteps := state.CurrentStep
	success := response != "" &&
		state.Status == agent.StatusCompleted &&
		!strings.HasPrefix(response, "LLM call failed")

	t.mu.Lock()
	memberRuns := make([]MemberRunResult, len(t.memberRuns))
	copy(memberRuns, t.memberRuns)
	t.mu.Unlock()

	totalSteps := leaderSteps
	for _, run := range memberRuns {
		totalSteps += run.Steps
	}

	if t.sessions != nil && sessionID != "" {
		if err := t.sessions.Append(ctx, sessionID,
			model.NewUserMessage(message),
			model.NewAssistantMessage(response)); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}

	slog.Info("Team run finished",
		"team", t.cfg.Name,
		"success", success,
		"member_runs", len(memberRuns),
		"total_steps", totalSteps)

	return &RunResponse{
		Success:    success,
		TeamName:   t.cfg.Name,
		Message:    response,
		MemberRuns: memberRuns,
		TotalSteps: totalSteps,
		Iterations: len(memberRuns),
		Metadata: map[string]any{
			"session_id":    sessionID,
			"run_id":        runID,
			"trace_id":      traceID,
			"input_tokens":  state.TotalInputTokens,
			"output_tokens": state.TotalOutputTokens,
		},
	}, nil
}

// runMember executes one delegated task on a transient member agent.
func (t *Team) runMember(ctx context.Context, member MemberConfig, task string) MemberRunResult {
	memberTools := tool.FilterByName(t.tools, member.Tools)

	if t.cfg.EnableSpawnAgent && containsName(member.Tools, agent.SpawnToolName) {
		spawn, err := agent.NewSpawnTool(agent.SpawnConfig{
			LLM:          t.client,
			ParentTools:  memberTools,
			WorkspaceDir: t.cfg.WorkspaceDir,
			CurrentDepth: 1,
			MaxDepth:     t.cfg.SpawnMaxDepth,
		})
		if err == nil {
			memberTools = append(memberTools, spawn)
		}
	}

	systemPrompt := fmt.Sprintf(`You are %s, a %s.

%s

Focus on your area of expertise and provide clear, actionable responses.
`, member.Name, member.Role, member.Instructions)

	memberAgent, err := agent.New(agent.Config{
		Name: member.ID,
		LLM:  t.client,
		Prompt: agent.PromptConfig{
			AdditionalContext: systemPrompt,
		},
		Tools:          memberTools,
		MaxSteps:       t.cfg.MemberMaxSteps,
		WorkspaceDir:   t.cfg.WorkspaceDir,
		DisableLogging: true,
	})
	if err != nil {
		result := MemberRunResult{
			MemberName: member.Name,
			MemberRole: member.Role,
			Task:       task,
			Success:    false,
			Error:      err.Error(),
		}
		t.recordMemberRun(result)
		return result
	}

	memberAgent.AddUserMessage(task)
	response, _, err := memberAgent.Run(ctx)

	state := memberAgent.State()
	result := MemberRunResult{
		MemberName: member.Name,
		MemberRole: member.Role,
		Task:       task,
		Response:   response,
		Steps:      state.CurrentStep,
		Metadata: map[string]any{
			"input_tokens":  state.TotalInputTokens,
			"output_tokens": state.TotalOutputTokens,
		},
	}
	switch {
	case err != nil:
		result.Error = err.Error()
	case response == "":
		result.Error = "empty response"
	case state.Status != agent.StatusCompleted:
		result.Error = state.ErrorMessage
	case strings.HasPrefix(response, "LLM call failed"):
		result.Error = response
	default:
		result.Success = true
	}

	t.recordMemberRun(result)
	return result
}

func (t *Team) recordMemberRun(result MemberRunResult) {
	t.mu.Lock()
	t.memberRuns = append(t.memberRuns, result)
	t.mu.Unlock()
}

func (t *Team) memberByID(id string) (MemberConfig, bool) {
	for _, member := range t.cfg.Members {
		if member.ID == id {
			return member, true
		}
	}
	return MemberConfig{}, false
}

func (t *Team) memberByRole(role string) (MemberConfig, bool) {
	for _, member := range t.cfg.Members {
		if member.Role == role {
			return member, true
		}
	}
	return MemberConfig{}, false
}

func (t *Team) memberIDs() []string {
	ids := make([]string, len(t.cfg.Members))
	for i, member := range t.cfg.Members {
		ids[i] = member.ID
	}
	return ids
}

func (t *Team) buildLeaderSystemPrompt(historyContext string) string {
	var members []string
	for i, member := range t.cfg.Members {
		entry := fmt.Sprintf(" - Agent %d:\n   - ID: %s\n   - Name: %s\n   - Role: %s",
			i+1, member.ID, member.Name, member.Role)
		if len(member.Tools) > 0 {
			entry += "\n   - Member tools:\n    - " + strings.Join(member.Tools, "\n    - ")
		} else {
			entry += "\n   - Member tools: (no tools)"
		}
		if member.Instructions != "" {
			entry += "\n   - Instructions: " + member.Instructions
		}
		members = append(members, entry)
	}

	description := t.cfg.Description
	if description == "" {
		description = "A collaborative team of specialized agents"
	}

	var delegationMethod string
	if t.cfg.DelegateToAll {
		delegationMethod = `- You cannot use a member tool directly. You can only delegate tasks to members.
- Use the ` + "`delegate_task_to_all_members`" + ` tool to send the task to ALL team members.
- When you delegate a task, provide a clear description of the task.
- You must always analyze the responses from members before responding to the user.
- After analyzing the responses from the members, if you feel the task has been completed, you can stop and respond to the user.
- If you are NOT satisfied with the responses from the members, you should re-assign the task.`
	} else {
		delegationMethod = `- Your role is to delegate tasks to members in your team with the highest likelihood of completing the user's request.
- Carefully analyze the tools available to the members and their roles before delegating tasks.
- You cannot use a member tool directly. You can only delegate tasks to members.
- When you delegate a task to another member, make sure to include:
  - member_id (str): The ID of the member to delegate the task to. Use only the ID of the member.
  - task (str): A clear description of the task. Determine the best way to describe the task to the member.
- You can delegate tasks to multiple members at once.
- You must always analyze the responses from members before responding to the user.
- After analyzing the responses from the members, if you feel the task has been completed, you can stop and respond to the user.
- If you are NOT satisfied with the responses from the members, you should re-assign the task to a different member.
- For simple greetings, thanks, or questions about the team itself, you should respond directly.
- For all work requests, tasks, or questions requiring expertise, route to appropriate team members.`
	}

	prompt := fmt.Sprintf(`You are the leader of a team of AI Agents.

Your task is to coordinate the team to complete the user's request.

<team_name>
%s
</team_name>

<team_description>
%s
</team_description>

<team_members>
%s
</team_members>

<how_to_respond>
%s
</how_to_respond>`, t.cfg.Name, description, strings.Join(members, "\n"), delegationMethod)

	if t.cfg.LeaderInstructions != "" {
		prompt += fmt.Sprintf("\n\n<instructions>\n%s\n</instructions>", t.cfg.LeaderInstructions)
	}
	if historyContext != "" {
		prompt += fmt.Sprintf(`

<previous_interactions>
%s

Use the previous interactions to maintain continuity and context.
</previous_interactions>`, historyContext)
	}
	return prompt
}

func formatHistory(history []model.Message) string {
	var b strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case model.RoleUser:
			b.WriteString("User: " + msg.Content + "\n")
		case model.RoleAssistant:
			b.WriteString("Assistant: " + msg.Content + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// delegateTool is the leader's targeted delegation tool. Its member_id
// parameter enumerates the configured member ids.
type delegateTool struct {
	team         *Team
	ctxSessionID string
}

var _ tool.Tool = (*delegateTool)(nil)

func (d *delegateTool) Name() string { return DelegateToolName }

func (d *delegateTool) Description() string {
	return `Delegate a task to a specific team member by their ID.

Use this to assign work to the team member best suited for the task.
Available members and their IDs are listed in the team_members section.`
}

func (d *delegateTool) Parameters() map[string]any {
	ids := d.team.memberIDs()
	labels := make([]string, len(d.team.cfg.Members))
	for i, member := range d.team.cfg.Members {
		labels[i] = fmt.Sprintf("%s (%s)", member.ID, member.Name)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"member_id": map[string]any{
				"type":        "string",
				"enum":        ids,
				"description": "ID of the team member to delegate to. Available: " + strings.Join(labels, ", "),
			},
			"task": map[string]any{
				"type":        "string",
				"description": "Clear description of the task to delegate",
			},
		},
		"required": []string{"member_id", "task"},
	}
}

func (d *delegateTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	memberID, _ := args["member_id"].(string)
	task, _ := args["task"].(string)

	member, ok := d.team.memberByID(memberID)
	if !ok {
		return tool.Ok(fmt.Sprintf(
			"Error: Member with ID '%s' not found in team. Available members: %s",
			memberID, strings.Join(d.team.memberIDs(), ", "))), nil
	}

	result := d.team.runMember(ctx, member, task)
	if result.Success {
		return tool.Ok(fmt.Sprintf("%s completed task:\n%s", member.Name, result.Response)), nil
	}
	return tool.Ok(fmt.Sprintf("%s failed: %s", member.Name, result.Error)), nil
}

// delegateAllTool broadcasts the same task to every member sequentially.
type delegateAllTool struct {
	team         *Team
	ctxSessionID string
}

var _ tool.Tool = (*delegateAllTool)(nil)

func (d *delegateAllTool) Name() string { return DelegateAllToolName }

func (d *delegateAllTool) Description() string {
	return `Delegate a task to ALL team members at once.

Use this to get diverse perspectives or brainstorm ideas by sending
the same task to all members simultaneously.`
}

func (d *delegateAllTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Clear description of the task to delegate",
			},
		},
		"required": []string{"task"},
	}
}

func (d *delegateAllTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	task, _ := args["task"].(string)

	results := make([]string, 0, len(d.team.cfg.Members))
	for _, member := range d.team.cfg.Members {
		result := d.team.runMember(ctx, member, task)
		results = append(results, member.Name+": "+result.Response)
	}
	return tool.Ok(strings.Join(results, "\n\n")), nil
}
