// Package memory is an in-memory buildgraph.Store for development runs
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meikuraledutech/buildgraph"
)

// Store keeps tasks and builds in maps guarded by one lock. Records are
// deep-copied on the way in and out, so callers can mutate their
// structs freely. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tasks  map[string]*buildgraph.Task
	builds map[string]*buildgraph.Build
}

var _ buildgraph.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tasks:  make(map[string]*buildgraph.Task),
		builds: make(map[string]*buildgraph.Build),
	}
}

// CreateSchema is a no-op; the maps always exist.
func (s *Store) CreateSchema(ctx context.Context) error { return ctx.Err() }

// DropSchema discards every record.
func (s *Store) DropSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*buildgraph.Task)
	s.builds = make(map[string]*buildgraph.Build)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// PutTask inserts or replaces a task. The stored record keeps the
// original creation time across replacements; both timestamps are
// written back to t.
func (s *Store) PutTask(ctx context.Context, t *buildgraph.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putTaskLocked(t)
	return nil
}

// PutTasks inserts or replaces every task under one lock acquisition.
func (s *Store) PutTasks(ctx context.Context, tasks []buildgraph.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range tasks {
		s.putTaskLocked(&tasks[i])
	}
	return nil
}

func (s *Store) putTaskLocked(t *buildgraph.Task) {
	now := time.Now().UTC()
	if existing, ok := s.tasks[t.Name]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tasks[t.Name] = copyTask(t)
}

// GetTask returns the named task. Returns nil, nil if not found.
func (s *Store) GetTask(ctx context.Context, name string) (*buildgraph.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	if !ok {
		return nil, nil
	}
	return copyTask(t), nil
}

// GetTasks returns the named tasks keyed by name. Absent names are
// simply not in the result.
func (s *Store) GetTasks(ctx context.Context, names []string) (map[string]*buildgraph.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[string]*buildgraph.Task, len(names))
	for _, name := range names {
		if t, ok := s.tasks[name]; ok {
			found[name] = copyTask(t)
		}
	}
	return found, nil
}

// ListTasks returns every task sorted by name.
func (s *Store) ListTasks(ctx context.Context) ([]buildgraph.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := []buildgraph.Task{}
	for _, t := range s.tasks {
		tasks = append(tasks, *copyTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func (s *Store) HasTask(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[name]
	return ok, nil
}

// ListDependents returns the names of tasks whose prerequisite list
// contains name, excluding the task itself, sorted by name.
func (s *Store) ListDependents(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dependents := []string{}
	for _, t := range s.tasks {
		if t.Name == name {
			continue
		}
		for _, req := range t.Requires {
			if req == name {
				dependents = append(dependents, t.Name)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

// UpdateTaskStatus sets the status and detail of the named task.
func (s *Store) UpdateTaskStatus(ctx context.Context, name string, status buildgraph.TaskStatus, detail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return buildgraph.ErrTaskNotFound
	}
	t.Status = status
	t.Detail = detail
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return buildgraph.ErrTaskNotFound
	}
	delete(s.tasks, name)
	return nil
}

// PutBuild inserts or replaces a build. Timestamps behave as in PutTask.
func (s *Store) PutBuild(ctx context.Context, b *buildgraph.Build) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putBuildLocked(b)
	return nil
}

// PutBuilds inserts or replaces every build under one lock acquisition.
func (s *Store) PutBuilds(ctx context.Context, builds []buildgraph.Build) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range builds {
		s.putBuildLocked(&builds[i])
	}
	return nil
}

func (s *Store) putBuildLocked(b *buildgraph.Build) {
	now := time.Now().UTC()
	if existing, ok := s.builds[b.Name]; ok {
		b.CreatedAt = existing.CreatedAt
	} else if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	s.builds[b.Name] = copyBuild(b)
}

// GetBuild returns the named build. Returns nil, nil if not found.
func (s *Store) GetBuild(ctx context.Context, name string) (*buildgraph.Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.builds[name]
	if !ok {
		return nil, nil
	}
	return copyBuild(b), nil
}

// ListBuilds returns every build sorted by name.
func (s *Store) ListBuilds(ctx context.Context) ([]buildgraph.Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	builds := []buildgraph.Build{}
	for _, b := range s.builds {
		builds = append(builds, *copyBuild(b))
	}
	sort.Slice(builds, func(i, j int) bool { return builds[i].Name < builds[j].Name })
	return builds, nil
}

func (s *Store) HasBuild(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.builds[name]
	return ok, nil
}

// UpdateBuildStatus sets the status and detail of the named build.
func (s *Store) UpdateBuildStatus(ctx context.Context, name string, status buildgraph.BuildStatus, detail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[name]
	if !ok {
		return buildgraph.ErrBuildNotFound
	}
	b.Status = status
	b.Detail = detail
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteBuild(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.builds[name]; !ok {
		return buildgraph.ErrBuildNotFound
	}
	delete(s.builds, name)
	return nil
}

func copyTask(t *buildgraph.Task) *buildgraph.Task {
	dup := *t
	dup.Requires = append([]string(nil), t.Requires...)
	return &dup
}

func copyBuild(b *buildgraph.Build) *buildgraph.Build {
	dup := *b
	dup.Tasks = append([]string(nil), b.Tasks...)
	return &dup
}
