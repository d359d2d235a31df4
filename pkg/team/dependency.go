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
	"golang.org/x/sync/errgroup"
)

// Task statuses in dependency mode.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskSkipped   = "skipped"
)

// TaskWithDependencies is one node of a dependency-mode task DAG.
type TaskWithDependencies struct {
	ID         string         `json:"id"`
	Task       string         `json:"task"`
	AssignedTo string         `json:"assigned_to"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     string         `json:"status"`
	Result     string         `json:"result,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DependencyRunResponse is the dependency-mode result.
type DependencyRunResponse struct {
	Success        bool                    `json:"success"`
	TeamName       string                  `json:"team_name"`
	Message        string                  `json:"message"`
	Tasks          []*TaskWithDependencies `json:"tasks"`
	ExecutionOrder [][]string              `json:"execution_order"`
	TotalSteps     int                     `json:"total_steps"`
	Metadata       map[string]any          `json:"metadata"`
}

// RunWithDependencies executes a task DAG: topologically layered, each
// layer run concurrently, with fail-stop propagation to later layers.
func (t *Team) RunWithDependencies(ctx context.Context, tasks []*TaskWithDependencies, opts RunOptions) (*DependencyRunResponse, error) {
	t.mu.Lock()
	t.memberRuns = nil
	t.mu.Unlock()

	runID := uuid.NewString()

	ctx, span := t.tracer.Start(ctx, "team.run_with_dependencies",
		trace.WithAttributes(
			attribute.String("team.name", t.cfg.Name),
			attribute.Int("team.tasks", len(tasks)),
		))
	defer span.End()
	traceID := span.SpanContext().TraceID().String()

	layers, err := resolveDependencies(tasks)
	if err != nil {
		return &DependencyRunResponse{
			Success:  false,
			TeamName: t.cfg.Name,
			Message:  "Dependency resolution failed: " + err.Error(),
			Tasks:    tasks,
			Metadata: map[string]any{"error": err.Error(), "run_id": runID, "trace_id": traceID},
		}, nil
	}

	executionOrder := make([][]string, len(layers))
	for i, layer := range layers {
		executionOrder[i] = make([]string, len(layer))
		for j, task := range layer {
			executionOrder[i][j] = task.ID
		}
	}

	completed := make(map[string]string)
	var completedMu sync.Mutex
	totalSteps := 0

	for layerIdx, layer := range layers {
		slog.Debug("Executing task layer",
			"team", t.cfg.Name,
			"layer", layerIdx,
			"tasks", executionOrder[layerIdx])

		g, layerCtx := errgroup.WithContext(ctx)
		for _, task := range layer {
			g.Go(func() error {
				completedMu.Lock()
				snapshot := make(map[string]string, len(completed))
				for id, result := range completed {
					snapshot[id] = result
				}
				completedMu.Unlock()

				t.executeTaskWithContext(layerCtx, task, snapshot)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var failed *TaskWithDependencies
		for _, task := range layer {
			completedMu.Lock()
			completed[task.ID] = task.Result
			completedMu.Unlock()
			if steps, ok := task.Metadata["steps"].(int); ok {
				totalSteps += steps
			}
			if task.Status == TaskFailed && failed == nil {
				failed = task
			}
		}

		if failed != nil {
			for _, laterLayer := range layers[layerIdx+1:] {
				for _, task := range laterLayer {
					task.Status = TaskSkipped
					task.Result = "Skipped due to dependency failure: " + failed.ID
				}
			}
			message := fmt.Sprintf("Execution failed: task '%s' failed\n\nFailure details:\n%s", failed.ID, failed.Result)
			return &DependencyRunResponse{
				Success:        false,
				TeamName:       t.cfg.Name,
				Message:        message,
				Tasks:          tasks,
				ExecutionOrder: executionOrder,
				TotalSteps:     totalSteps,
				Metadata: map[string]any{
					"run_id":      runID,
					"trace_id":    traceID,
					"failed_task": failed.ID,
				},
			}, nil
		}
	}

	completedCount := 0
	for _, task := range tasks {
		if task.Status == TaskCompleted {
			completedCount++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "All tasks completed (%d/%d)\n\nResults:\n", completedCount, len(tasks))
	for _, task := range tasks {
		preview := task.Result
		if len(preview) > 200 {
			preview = preview[:200]
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s...", task.ID, task.Status, preview)
	}

	return &DependencyRunResponse{
		Success:        true,
		TeamName:       t.cfg.Name,
		Message:        b.String(),
		Tasks:          tasks,
		ExecutionOrder: executionOrder,
		TotalSteps:     totalSteps,
		Metadata: map[string]any{
			"run_id":   runID,
			"trace_id": traceID,
		},
	}, nil
}

// executeTaskWithContext runs one task on its role-matched member,
// injecting dependency results into the task prompt.
func (t *Team) executeTaskWithContext(ctx context.Context, task *TaskWithDependencies, completed map[string]string) {
	task.Status = TaskRunning

	member, ok := t.memberByRole(task.AssignedTo)
	if !ok {
		task.Status = TaskFailed
		task.Result = fmt.Sprintf("Error: No member with role '%s' found", task.AssignedTo)
		return
	}

	description := task.Task
	if len(task.DependsOn) > 0 {
		var b strings.Builder
		b.WriteString(description)
		b.WriteString("\n\nDependent task results:")
		for _, depID := range task.DependsOn {
			if result, ok := completed[depID]; ok {
				fmt.Fprintf(&b, "\n[%s]: %s", depID, result)
			}
		}
		description = b.String()
	}

	result := t.runMember(ctx, member, description)
	if task.Metadata == nil {
		task.Metadata = make(map[string]any)
	}
	task.Metadata["member_name"] = result.MemberName
	task.Metadata["steps"] = result.Steps

	if result.Success {
		task.Status = TaskCompleted
		task.Result = result.Response
		return
	}
	task.Status = TaskFailed
	if result.Error != "" {
		task.Result = result.Error
	} else {
		task.Result = "Unknown error"
	}
}

// resolveDependencies layers the DAG by repeatedly emitting the zero
// in-degree frontier. Layer membership preserves input order, so the
// execution order is deterministic.
func resolveDependencies(tasks []*TaskWithDependencies) ([][]*TaskWithDependencies, error) {
	taskMap := make(map[string]*TaskWithDependencies, len(tasks))
	for _, task := range tasks {
		taskMap[task.ID] = task
	}
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, ok := taskMap[depID]; !ok {
				return nil, fmt.Errorf("Task '%s' depends on non-existent task '%s'", task.ID, depID)
			}
		}
	}

	inDegree := make(map[string]int, len(tasks))
	for _, task := range tasks {
		inDegree[task.ID] = len(task.DependsOn)
	}

	remaining := make([]*TaskWithDependencies, len(tasks))
	copy(remaining, tasks)

	var layers [][]*TaskWithDependencies
	for len(remaining) > 0 {
		var layer []*TaskWithDependencies
		var rest []*TaskWithDependencies
		for _, task := range remaining {
			if inDegree[task.ID] == 0 {
				layer = append(layer, task)
			} else {
				rest = append(rest, task)
			}
		}
		if len(layer) == 0 {
			ids := make([]string, len(rest))
			for i, task := range rest {
				ids[i] = task.ID
			}
			return nil, fmt.Errorf("circular dependency detected among tasks: %s", strings.Join(ids, ", "))
		}
		layers = append(layers, layer)

		for _, done := range layer {
			for _, task := range rest {
				for _, depID := range task.DependsOn {
					if depID == done.ID {
						inDegree[task.ID]--
					}
				}
			}
		}
		remaining = rest
	}
	return layers, nil
}
