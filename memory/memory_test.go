package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/buildgraph"
)

func TestTaskRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	absent, err := store.GetTask(ctx, "compile")
	require.NoError(t, err)
	assert.Nil(t, absent)

	task := &buildgraph.Task{Name: "compile", Requires: []string{"fetch"}, Status: buildgraph.TaskPending}
	require.NoError(t, store.PutTask(ctx, task))
	assert.False(t, task.CreatedAt.IsZero())
	assert.False(t, task.UpdatedAt.IsZero())

	got, err := store.GetTask(ctx, "compile")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.Requires, got.Requires)
	assert.Equal(t, buildgraph.TaskPending, got.Status)

	ok, err := store.HasTask(ctx, "compile")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutTaskKeepsCreationTime(t *testing.T) {
	store := New()
	ctx := context.Background()

	task := &buildgraph.Task{Name: "compile"}
	require.NoError(t, store.PutTask(ctx, task))
	created := task.CreatedAt

	replacement := &buildgraph.Task{Name: "compile", Status: buildgraph.TaskCompleted}
	require.NoError(t, store.PutTask(ctx, replacement))

	got, err := store.GetTask(ctx, "compile")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, buildgraph.TaskCompleted, got.Status)
	assert.False(t, got.UpdatedAt.Before(created))
}

func TestRecordsDoNotAlias(t *testing.T) {
	store := New()
	ctx := context.Background()

	task := &buildgraph.Task{Name: "link", Requires: []string{"compile"}}
	require.NoError(t, store.PutTask(ctx, task))
	task.Requires[0] = "mutated"

	got, err := store.GetTask(ctx, "link")
	require.NoError(t, err)
	require.Equal(t, []string{"compile"}, got.Requires)

	got.Requires[0] = "mutated again"
	again, err := store.GetTask(ctx, "link")
	require.NoError(t, err)
	assert.Equal(t, []string{"compile"}, again.Requires)
}

func TestGetTasksSkipsAbsentNames(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.PutTask(ctx, &buildgraph.Task{Name: "a"}))

	found, err := store.GetTasks(ctx, []string{"a", "ghost"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found, "a")
	assert.NotContains(t, found, "ghost")
}

func TestListTasksSorted(t *testing.T) {
	store := New()
	ctx := context.Background()

	empty, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, store.PutTask(ctx, &buildgraph.Task{Name: name}))
	}
	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "a", tasks[0].Name)
	assert.Equal(t, "b", tasks[1].Name)
	assert.Equal(t, "c", tasks[2].Name)
}

func TestUpdateTaskStatus(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.UpdateTaskStatus(ctx, "ghost", buildgraph.TaskRunning, "")
	assert.ErrorIs(t, err, buildgraph.ErrTaskNotFound)

	require.NoError(t, store.PutTask(ctx, &buildgraph.Task{Name: "compile"}))
	require.NoError(t, store.UpdateTaskStatus(ctx, "compile", buildgraph.TaskFailed, "exit status 2"))

	got, err := store.GetTask(ctx, "compile")
	require.NoError(t, err)
	assert.Equal(t, buildgraph.TaskFailed, got.Status)
	assert.Equal(t, "exit status 2", got.Detail)
}

func TestListDependents(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.PutTasks(ctx, []buildgraph.Task{
		{Name: "compile"},
		{Name: "link", Requires: []string{"compile"}},
		{Name: "test", Requires: []string{"link", "compile"}},
		{Name: "loner"},
	}))

	dependents, err := store.ListDependents(ctx, "compile")
	require.NoError(t, err)
	assert.Equal(t, []string{"link", "test"}, dependents)

	dependents, err = store.ListDependents(ctx, "loner")
	require.NoError(t, err)
	assert.NotNil(t, dependents)
	assert.Empty(t, dependents)
}

func TestDeleteTask(t *testing.T) {
	store := New()
	ctx := context.Background()

	assert.ErrorIs(t, store.DeleteTask(ctx, "ghost"), buildgraph.ErrTaskNotFound)

	require.NoError(t, store.PutTask(ctx, &buildgraph.Task{Name: "compile"}))
	require.NoError(t, store.DeleteTask(ctx, "compile"))

	ok, err := store.HasTask(ctx, "compile")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutTasksBulk(t *testing.T) {
	store := New()
	ctx := context.Background()

	tasks := []buildgraph.Task{{Name: "a"}, {Name: "b"}, {Name: "c", Requires: []string{"a", "b"}}}
	require.NoError(t, store.PutTasks(ctx, tasks))

	listed, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestBuildLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	absent, err := store.GetBuild(ctx, "app")
	require.NoError(t, err)
	assert.Nil(t, absent)
	assert.ErrorIs(t, store.UpdateBuildStatus(ctx, "app", buildgraph.BuildRunning, ""), buildgraph.ErrBuildNotFound)
	assert.ErrorIs(t, store.DeleteBuild(ctx, "app"), buildgraph.ErrBuildNotFound)

	build := &buildgraph.Build{Name: "app", Tasks: []string{"compile", "link"}, Status: buildgraph.BuildPending}
	require.NoError(t, store.PutBuild(ctx, build))

	got, err := store.GetBuild(ctx, "app")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"compile", "link"}, got.Tasks)

	require.NoError(t, store.PutBuilds(ctx, []buildgraph.Build{{Name: "lib", Tasks: []string{"compile"}}}))
	builds, err := store.ListBuilds(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "app", builds[0].Name)
	assert.Equal(t, "lib", builds[1].Name)

	require.NoError(t, store.UpdateBuildStatus(ctx, "app", buildgraph.BuildCompleted, "all tasks done"))
	got, err = store.GetBuild(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, buildgraph.BuildCompleted, got.Status)
	assert.Equal(t, "all tasks done", got.Detail)

	require.NoError(t, store.DeleteBuild(ctx, "app"))
	ok, err := store.HasBuild(ctx, "app")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDropSchema(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.PutTask(ctx, &buildgraph.Task{Name: "a"}))
	require.NoError(t, store.PutBuild(ctx, &buildgraph.Build{Name: "app", Tasks: []string{"a"}}))
	require.NoError(t, store.DropSchema(ctx))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	builds, err := store.ListBuilds(ctx)
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				name := fmt.Sprintf("task-%d-%d", g, i)
				_ = store.PutTask(ctx, &buildgraph.Task{Name: name})
				_, _ = store.GetTask(ctx, name)
				_, _ = store.ListTasks(ctx)
				_ = store.UpdateTaskStatus(ctx, name, buildgraph.TaskRunning, "")
			}
		}(g)
	}
	wg.Wait()

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 8*50)
}
