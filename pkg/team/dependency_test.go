package team

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/model"
)

func task(id, assignedTo string, deps ...string) *TaskWithDependencies {
	return &TaskWithDependencies{
		ID:         id,
		Task:       "work on " + id,
		AssignedTo: assignedTo,
		DependsOn:  deps,
		Status:     TaskPending,
	}
}

func TestResolveDependenciesLayers(t *testing.T) {
	tasks := []*TaskWithDependencies{
		task("t1", "researcher"),
		task("t2", "writer", "t1"),
		task("t3", "writer", "t2"),
		task("t4", "researcher", "t1"),
	}

	layers, err := resolveDependencies(tasks)
	require.NoError(t, err)
	require.Len(t, layers, 3)

	ids := func(layer []*TaskWithDependencies) []string {
		out := make([]string, len(layer))
		for i, tk := range layer {
			out[i] = tk.ID
		}
		return out
	}
	assert.Equal(t, []string{"t1"}, ids(layers[0]))
	assert.Equal(t, []string{"t2", "t4"}, ids(layers[1]))
	assert.Equal(t, []string{"t3"}, ids(layers[2]))
}

func TestResolveDependenciesMissingDependency(t *testing.T) {
	tasks := []*TaskWithDependencies{
		task("t1", "researcher", "phantom"),
	}
	_, err := resolveDependencies(tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Task 't1' depends on non-existent task 'phantom'")
}

func TestResolveDependenciesCycle(t *testing.T) {
	tasks := []*TaskWithDependencies{
		task("t1", "researcher", "t2"),
		task("t2", "writer", "t1"),
	}
	_, err := resolveDependencies(tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency detected")
}

func TestRunWithDependenciesHappyPath(t *testing.T) {
	client := &routedClient{}
	client.respond = func(messages []model.Message) *model.Response {
		system := messages[0].Content
		switch {
		case strings.Contains(system, "You are Alice"):
			return &model.Response{Content: "findings from research"}
		case strings.Contains(system, "You are Bob"):
			return &model.Response{Content: "polished draft"}
		default:
			return &model.Response{Content: "unused"}
		}
	}

	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)

	tasks := []*TaskWithDependencies{
		task("research", "researcher"),
		task("write", "writer", "research"),
	}
	resp, err := tm.RunWithDependencies(context.Background(), tasks, RunOptions{})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, [][]string{{"research"}, {"write"}}, resp.ExecutionOrder)
	assert.Equal(t, TaskCompleted, tasks[0].Status)
	assert.Equal(t, TaskCompleted, tasks[1].Status)
	assert.Equal(t, "findings from research", tasks[0].Result)
	assert.Contains(t, resp.Message, "All tasks completed (2/2)")

	// The dependent task's prompt carries the upstream result.
	var sawDependencyContext bool
	client.mu.Lock()
	for _, captured := range client.tasks {
		if strings.Contains(captured, "Dependent task results:") &&
			strings.Contains(captured, "[research]: findings from research") {
			sawDependencyContext = true
		}
	}
	client.mu.Unlock()
	assert.True(t, sawDependencyContext)
}

func TestRunWithDependenciesFailureSkipsDownstream(t *testing.T) {
	client := &routedClient{
		respond: func(messages []model.Message) *model.Response {
			return &model.Response{Content: "irrelevant"}
		},
	}
	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)

	tasks := []*TaskWithDependencies{
		task("broken", "nonexistent-role"),
		task("downstream", "writer", "broken"),
	}
	resp, err := tm.RunWithDependencies(context.Background(), tasks, RunOptions{})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Execution failed: task 'broken' failed")
	assert.Equal(t, TaskFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].Result, "No member with role 'nonexistent-role'")
	assert.Equal(t, TaskSkipped, tasks[1].Status)
	assert.Contains(t, tasks[1].Result, "Skipped due to dependency failure: broken")
	assert.Equal(t, "broken", resp.Metadata["failed_task"])
}

func TestRunWithDependenciesResolutionError(t *testing.T) {
	client := &routedClient{
		respond: func(messages []model.Message) *model.Response {
			return &model.Response{Content: "irrelevant"}
		},
	}
	tm, err := New(twoMemberConfig(), client, nil, nil)
	require.NoError(t, err)

	tasks := []*TaskWithDependencies{
		task("t1", "researcher", "missing"),
	}
	resp, err := tm.RunWithDependencies(context.Background(), tasks, RunOptions{})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Dependency resolution failed")
}
