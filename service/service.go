// Package service coordinates storage, the result cache and the
// topology engine. It is the only component that talks to all three:
// it sequences validation, cache lookup, computation and cache
// population, owns the default algorithm, and invalidates caches on
// every mutation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meikuraledutech/buildgraph"
	"github.com/meikuraledutech/buildgraph/cache"
	"github.com/meikuraledutech/buildgraph/topology"
)

// Config wires a Service. Store is required; a nil Engine gets a fresh
// one; a nil Cache disables caching; a nil Logger selects slog.Default.
// StepDelay paces task transitions during executions.
type Config struct {
	Store     buildgraph.Store
	Engine    *topology.Engine
	Cache     *cache.ResultCache
	Logger    *slog.Logger
	StepDelay time.Duration
}

// Service is the orchestration coordinator.
type Service struct {
	store     buildgraph.Store
	engine    *topology.Engine
	cache     *cache.ResultCache
	logger    *slog.Logger
	stepDelay time.Duration

	group singleflight.Group

	mu         sync.Mutex
	executions map[string]*Execution
	running    map[string]string // build name -> execution id
}

// New creates a Service from cfg.
func New(cfg Config) *Service {
	engine := cfg.Engine
	if engine == nil {
		engine = topology.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		engine:     engine,
		cache:      cfg.Cache,
		logger:     logger,
		stepDelay:  cfg.StepDelay,
		executions: make(map[string]*Execution),
		running:    make(map[string]string),
	}
}

// ResolveOptions select the algorithm and cache policy for one resolve.
// A zero Algorithm means Kahn. NoCache skips both cache lookup and
// population.
type ResolveOptions struct {
	Algorithm buildgraph.Algorithm
	NoCache   bool
}

// Resolve produces the sorted task list for the named build. Identical
// concurrent requests collapse into one computation while caching is
// enabled; the shared result must not be mutated by callers.
func (s *Service) Resolve(ctx context.Context, name string, opts ResolveOptions) (*buildgraph.SortedTaskList, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = buildgraph.AlgorithmKahn
	}

	if opts.NoCache || s.cache == nil {
		return s.resolve(ctx, name, algorithm, true)
	}

	v, err, _ := s.group.Do(name+":"+string(algorithm), func() (interface{}, error) {
		return s.resolve(ctx, name, algorithm, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*buildgraph.SortedTaskList), nil
}

func (s *Service) resolve(ctx context.Context, name string, algorithm buildgraph.Algorithm, skipCache bool) (*buildgraph.SortedTaskList, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		resolveDuration.WithLabelValues(string(algorithm), outcome).Observe(time.Since(start).Seconds())
	}()

	build, err := s.store.GetBuild(ctx, name)
	if err != nil {
		outcome = "error"
		return nil, err
	}
	if build == nil {
		outcome = "not_found"
		return nil, fmt.Errorf("%w: %s", buildgraph.ErrBuildNotFound, name)
	}

	universe, err := s.universeFor(ctx, build)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	if missing := s.engine.ValidateReferences(build, universe); len(missing) > 0 {
		outcome = "missing"
		return nil, &buildgraph.MissingTasksError{Names: missing}
	}

	useCache := !skipCache && s.cache != nil
	var key string
	if useCache {
		key = cache.Key(build, algorithm, universe)
		if result := s.cache.Get(ctx, key); result != nil {
			outcome = "cached"
			s.logger.Debug("resolve served from cache", "build", name, "algorithm", algorithm)
			return result, nil
		}
	}

	members := make(map[string]*buildgraph.Task, len(build.Tasks))
	for _, member := range build.Tasks {
		members[member] = universe[member]
	}
	if cycles := s.engine.DetectCycles(members); len(cycles) > 0 {
		outcome = "cycle"
		return nil, &buildgraph.CycleError{Cycles: cycles}
	}

	result, err := s.engine.Sort(build, universe, algorithm)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	if useCache {
		s.cache.Put(ctx, key, result)
	}
	s.logger.Debug("resolved build", "build", name, "algorithm", algorithm, "tasks", len(result.Tasks), "elapsed_ms", result.ElapsedMS)
	return result, nil
}

// universeFor fetches the build's member tasks plus every directly
// referenced prerequisite in a second round trip. Names without a
// record are simply absent from the result.
func (s *Service) universeFor(ctx context.Context, build *buildgraph.Build) (map[string]*buildgraph.Task, error) {
	universe, err := s.store.GetTasks(ctx, build.Tasks)
	if err != nil {
		return nil, err
	}

	var extra []string
	seen := make(map[string]bool)
	for _, member := range build.Tasks {
		task := universe[member]
		if task == nil {
			continue
		}
		for _, req := range task.Requires {
			if _, ok := universe[req]; ok || seen[req] {
				continue
			}
			seen[req] = true
			extra = append(extra, req)
		}
	}
	if len(extra) > 0 {
		more, err := s.store.GetTasks(ctx, extra)
		if err != nil {
			return nil, err
		}
		for name, task := range more {
			universe[name] = task
		}
	}
	return universe, nil
}

// ValidateBuild reports the referentially missing names for a build:
// members without a task record and prerequisites of members without
// one. An empty list means the build would resolve past validation.
func (s *Service) ValidateBuild(ctx context.Context, name string) ([]string, error) {
	build, err := s.store.GetBuild(ctx, name)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, fmt.Errorf("%w: %s", buildgraph.ErrBuildNotFound, name)
	}

	universe, err := s.universeFor(ctx, build)
	if err != nil {
		return nil, err
	}
	return s.engine.ValidateReferences(build, universe), nil
}

// BuildCycles returns the cycles among the named build's members,
// ignoring edges that leave the member set.
func (s *Service) BuildCycles(ctx context.Context, name string) ([][]string, error) {
	build, err := s.store.GetBuild(ctx, name)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, fmt.Errorf("%w: %s", buildgraph.ErrBuildNotFound, name)
	}

	members, err := s.store.GetTasks(ctx, build.Tasks)
	if err != nil {
		return nil, err
	}
	return s.engine.DetectCycles(members), nil
}

// Cycles returns every dependency cycle across the whole task universe.
func (s *Service) Cycles(ctx context.Context) ([][]string, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	universe := make(map[string]*buildgraph.Task, len(tasks))
	for i := range tasks {
		universe[tasks[i].Name] = &tasks[i]
	}
	return s.engine.DetectCycles(universe), nil
}

// ── Task CRUD ─────────────────────────────────────────────────────────

// CreateTask validates and stores a new task. Prerequisites must exist;
// duplicates are refused.
func (s *Service) CreateTask(ctx context.Context, t *buildgraph.Task) error {
	if t.Status == "" {
		t.Status = buildgraph.TaskPending
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.requireTasks(ctx, t.Requires); err != nil {
		return err
	}

	exists, err := s.store.HasTask(ctx, t.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", buildgraph.ErrTaskExists, t.Name)
	}

	if err := s.store.PutTask(ctx, t); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// UpdateTask validates and replaces an existing task.
func (s *Service) UpdateTask(ctx context.Context, t *buildgraph.Task) error {
	if t.Status == "" {
		t.Status = buildgraph.TaskPending
	}
	if err := t.Validate(); err != nil {
		return err
	}

	exists, err := s.store.HasTask(ctx, t.Name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", buildgraph.ErrTaskNotFound, t.Name)
	}
	if err := s.requireTasks(ctx, t.Requires); err != nil {
		return err
	}

	if err := s.store.PutTask(ctx, t); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// GetTask returns the named task, or ErrTaskNotFound.
func (s *Service) GetTask(ctx context.Context, name string) (*buildgraph.Task, error) {
	t, err := s.store.GetTask(ctx, name)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", buildgraph.ErrTaskNotFound, name)
	}
	return t, nil
}

// ListTasks returns every task sorted by name.
func (s *Service) ListTasks(ctx context.Context) ([]buildgraph.Task, error) {
	return s.store.ListTasks(ctx)
}

// DeleteTask removes a task unless another task still requires it.
func (s *Service) DeleteTask(ctx context.Context, name string) error {
	dependents, err := s.store.ListDependents(ctx, name)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return fmt.Errorf("%w: %s required by %s", buildgraph.ErrTaskReferenced, name, strings.Join(dependents, ", "))
	}

	if err := s.store.DeleteTask(ctx, name); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// requireTasks verifies that every name has a task record.
func (s *Service) requireTasks(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	found, err := s.store.GetTasks(ctx, names)
	if err != nil {
		return err
	}
	missing := []string{}
	for _, name := range names {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &buildgraph.MissingTasksError{Names: missing}
	}
	return nil
}

// ── Build CRUD ────────────────────────────────────────────────────────

// CreateBuild validates and stores a new build. Members must exist;
// duplicates are refused. Cyclic member graphs are storable; cycles
// surface when the build is resolved, not when it is defined.
func (s *Service) CreateBuild(ctx context.Context, b *buildgraph.Build) error {
	if b.Status == "" {
		b.Status = buildgraph.BuildPending
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.requireTasks(ctx, b.Tasks); err != nil {
		return err
	}

	exists, err := s.store.HasBuild(ctx, b.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", buildgraph.ErrBuildExists, b.Name)
	}

	return s.store.PutBuild(ctx, b)
}

// UpdateBuild validates and replaces an existing build, then drops its
// cached results.
func (s *Service) UpdateBuild(ctx context.Context, b *buildgraph.Build) error {
	if b.Status == "" {
		b.Status = buildgraph.BuildPending
	}
	if err := b.Validate(); err != nil {
		return err
	}

	exists, err := s.store.HasBuild(ctx, b.Name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", buildgraph.ErrBuildNotFound, b.Name)
	}
	if err := s.requireTasks(ctx, b.Tasks); err != nil {
		return err
	}

	if err := s.store.PutBuild(ctx, b); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateBuild(ctx, b.Name)
	}
	return nil
}

// GetBuild returns the named build, or ErrBuildNotFound.
func (s *Service) GetBuild(ctx context.Context, name string) (*buildgraph.Build, error) {
	b, err := s.store.GetBuild(ctx, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", buildgraph.ErrBuildNotFound, name)
	}
	return b, nil
}

// ListBuilds returns every build sorted by name.
func (s *Service) ListBuilds(ctx context.Context) ([]buildgraph.Build, error) {
	return s.store.ListBuilds(ctx)
}

// DeleteBuild removes a build and drops its cached results.
func (s *Service) DeleteBuild(ctx context.Context, name string) error {
	if err := s.store.DeleteBuild(ctx, name); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateBuild(ctx, name)
	}
	return nil
}

// ── Bulk ingestion ────────────────────────────────────────────────────

// ApplyDefinitions upserts whole batches of tasks and builds, as loaded
// from definition files, and drops every cached result once at the end.
// Records are validated individually; referential soundness across the
// batch is checked at resolve time, so files may arrive in any order.
func (s *Service) ApplyDefinitions(ctx context.Context, tasks []buildgraph.Task, builds []buildgraph.Build) (int, int, error) {
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = buildgraph.TaskPending
		}
		if err := tasks[i].Validate(); err != nil {
			return 0, 0, err
		}
	}
	for i := range builds {
		if builds[i].Status == "" {
			builds[i].Status = buildgraph.BuildPending
		}
		if err := builds[i].Validate(); err != nil {
			return 0, 0, err
		}
	}

	if err := s.store.PutTasks(ctx, tasks); err != nil {
		return 0, 0, err
	}
	if err := s.store.PutBuilds(ctx, builds); err != nil {
		return len(tasks), 0, err
	}

	s.invalidateAll(ctx)
	return len(tasks), len(builds), nil
}

// InvalidateCache drops cached results, for one build when name is
// non-empty, otherwise for all.
func (s *Service) InvalidateCache(ctx context.Context, name string) {
	if s.cache == nil {
		return
	}
	if name != "" {
		s.cache.InvalidateBuild(ctx, name)
		return
	}
	s.cache.InvalidateAll(ctx)
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
}
