package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/buildgraph"
	"github.com/meikuraledutech/buildgraph/cache"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	value, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	value, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	value, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Delete(ctx, "k"), "deleting an absent key is not an error")
}

func TestPersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = 0
	ctx := context.Background()

	store, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.Close())

	store, err = Open(cfg)
	require.NoError(t, err)
	defer store.Close()

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestTTLExpiry(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "fleeting", []byte("v"), time.Second))

	// Badger tracks expiry with one-second granularity, so poll rather
	// than sleeping an exact interval.
	require.Eventually(t, func() bool {
		value, err := store.Get(ctx, "fleeting")
		return err == nil && value == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDeletePrefix(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sorted:app:kahn:aaaa", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "sorted:app:dfs:bbbb", []byte("2"), 0))
	require.NoError(t, store.Set(ctx, "sorted:lib:kahn:cccc", []byte("3"), 0))

	require.NoError(t, store.DeletePrefix(ctx, "sorted:app:"))

	for key, want := range map[string][]byte{
		"sorted:app:kahn:aaaa": nil,
		"sorted:app:dfs:bbbb":  nil,
		"sorted:lib:kahn:cccc": []byte("3"),
	} {
		value, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, value, key)
	}
}

func TestCancelledContext(t *testing.T) {
	store := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Set(ctx, "k", []byte("v"), 0), context.Canceled)
	assert.ErrorIs(t, store.Delete(ctx, "k"), context.Canceled)
	assert.ErrorIs(t, store.DeletePrefix(ctx, "k"), context.Canceled)
}

func TestBacksResultCache(t *testing.T) {
	store := openInMemory(t)
	results := cache.New(store, time.Minute, nil)
	ctx := context.Background()

	build := &buildgraph.Build{Name: "app", Tasks: []string{"compile", "link"}}
	universe := map[string]*buildgraph.Task{
		"compile": {Name: "compile"},
		"link":    {Name: "link", Requires: []string{"compile"}},
	}
	key := cache.Key(build, buildgraph.AlgorithmKahn, universe)

	require.Nil(t, results.Get(ctx, key))

	want := &buildgraph.SortedTaskList{
		BuildName: "app",
		Tasks:     []string{"compile", "link"},
		Algorithm: buildgraph.AlgorithmKahn,
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	results.Put(ctx, key, want)
	assert.Equal(t, want, results.Get(ctx, key))

	results.InvalidateBuild(ctx, "app")
	assert.Nil(t, results.Get(ctx, key))
}
