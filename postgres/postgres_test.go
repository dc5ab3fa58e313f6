package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/buildgraph"
)

// newTestStore connects to the database named by
// BUILDGRAPH_TEST_DATABASE_URL and recreates the schema. Tests are
// skipped when the variable is unset.
func newTestStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("BUILDGRAPH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("set BUILDGRAPH_TEST_DATABASE_URL to run postgres tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)

	store := New(pool)
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.DropSchema(ctx))
	require.NoError(t, store.CreateSchema(ctx))
	t.Cleanup(func() {
		_ = store.DropSchema(context.Background())
		pool.Close()
	})
	return store
}

func TestTaskLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	absent, err := store.GetTask(ctx, "compile")
	require.NoError(t, err)
	assert.Nil(t, absent)

	task := &buildgraph.Task{Name: "compile", Requires: []string{"fetch"}, Status: buildgraph.TaskPending}
	require.NoError(t, store.PutTask(ctx, task))
	assert.False(t, task.CreatedAt.IsZero())
	created := task.CreatedAt

	got, err := store.GetTask(ctx, "compile")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "compile", got.Name)
	assert.Equal(t, []string{"fetch"}, got.Requires)
	assert.Equal(t, buildgraph.TaskPending, got.Status)

	replacement := &buildgraph.Task{Name: "compile", Requires: []string{"fetch", "configure"}, Status: buildgraph.TaskCompleted}
	require.NoError(t, store.PutTask(ctx, replacement))
	assert.True(t, replacement.CreatedAt.Equal(created), "replacement keeps the original creation time")

	ok, err := store.HasTask(ctx, "compile")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.UpdateTaskStatus(ctx, "compile", buildgraph.TaskFailed, "exit status 2"))
	got, err = store.GetTask(ctx, "compile")
	require.NoError(t, err)
	assert.Equal(t, buildgraph.TaskFailed, got.Status)
	assert.Equal(t, "exit status 2", got.Detail)
	assert.ErrorIs(t, store.UpdateTaskStatus(ctx, "ghost", buildgraph.TaskRunning, ""), buildgraph.ErrTaskNotFound)

	require.NoError(t, store.DeleteTask(ctx, "compile"))
	assert.ErrorIs(t, store.DeleteTask(ctx, "compile"), buildgraph.ErrTaskNotFound)
}

func TestTaskQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutTasks(ctx, []buildgraph.Task{
		{Name: "compile"},
		{Name: "link", Requires: []string{"compile"}},
		{Name: "test", Requires: []string{"link", "compile"}},
	}))

	found, err := store.GetTasks(ctx, []string{"compile", "test", "ghost"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Contains(t, found, "compile")
	assert.Contains(t, found, "test")

	none, err := store.GetTasks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "compile", tasks[0].Name)
	assert.Equal(t, "link", tasks[1].Name)
	assert.Equal(t, "test", tasks[2].Name)
	assert.Equal(t, []string{}, tasks[0].Requires, "empty requires round-trips as an empty list")

	dependents, err := store.ListDependents(ctx, "compile")
	require.NoError(t, err)
	assert.Equal(t, []string{"link", "test"}, dependents)

	dependents, err = store.ListDependents(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, dependents)
}

func TestBuildLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	absent, err := store.GetBuild(ctx, "app")
	require.NoError(t, err)
	assert.Nil(t, absent)

	build := &buildgraph.Build{Name: "app", Tasks: []string{"compile", "link"}, Status: buildgraph.BuildPending}
	require.NoError(t, store.PutBuild(ctx, build))
	assert.False(t, build.CreatedAt.IsZero())

	got, err := store.GetBuild(ctx, "app")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"compile", "link"}, got.Tasks)

	require.NoError(t, store.PutBuilds(ctx, []buildgraph.Build{
		{Name: "lib", Tasks: []string{"compile"}},
		{Name: "dist", Tasks: []string{"link"}},
	}))
	builds, err := store.ListBuilds(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 3)
	assert.Equal(t, "app", builds[0].Name)
	assert.Equal(t, "dist", builds[1].Name)
	assert.Equal(t, "lib", builds[2].Name)

	ok, err := store.HasBuild(ctx, "lib")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.UpdateBuildStatus(ctx, "app", buildgraph.BuildCompleted, "all tasks done"))
	got, err = store.GetBuild(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, buildgraph.BuildCompleted, got.Status)
	assert.Equal(t, "all tasks done", got.Detail)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)
	assert.ErrorIs(t, store.UpdateBuildStatus(ctx, "ghost", buildgraph.BuildRunning, ""), buildgraph.ErrBuildNotFound)

	require.NoError(t, store.DeleteBuild(ctx, "app"))
	assert.ErrorIs(t, store.DeleteBuild(ctx, "app"), buildgraph.ErrBuildNotFound)
}
