package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meikuraledutech/buildgraph"
)

// Execution tracks one run of a build through its resolved order.
// Position counts finished steps; Order[Position] is the step in
// flight while the run is live.
type Execution struct {
	ID         string                 `json:"id"`
	BuildName  string                 `json:"build_name"`
	Algorithm  buildgraph.Algorithm   `json:"algorithm"`
	Status     buildgraph.BuildStatus `json:"status"`
	Order      []string               `json:"order"`
	Position   int                    `json:"position"`
	Detail     string                 `json:"detail,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`

	cancel context.CancelFunc
}

func (e *Execution) finished() bool {
	switch e.Status {
	case buildgraph.BuildCompleted, buildgraph.BuildFailed, buildgraph.BuildCancelled:
		return true
	}
	return false
}

// TaskState pairs a task name with its current status.
type TaskState struct {
	Name   string                `json:"name"`
	Status buildgraph.TaskStatus `json:"status"`
}

// BuildState is the merged status view of a build and its member tasks.
type BuildState struct {
	Name        string                 `json:"name"`
	Status      buildgraph.BuildStatus `json:"status"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Tasks       []TaskState            `json:"tasks"`
}

// Execute resolves the named build and starts running it in the
// background, transitioning each task pending, running, completed in
// order. Only one execution per build may be live at a time. The
// returned snapshot is safe to retain; poll GetExecution for progress.
func (s *Service) Execute(ctx context.Context, name string, opts ResolveOptions) (*Execution, error) {
	result, err := s.Resolve(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	order := make([]string, len(result.Tasks))
	copy(order, result.Tasks)

	s.mu.Lock()
	if id, ok := s.running[name]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (execution %s)", buildgraph.ErrBuildRunning, name, id)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	exec := &Execution{
		ID:        uuid.NewString(),
		BuildName: name,
		Algorithm: result.Algorithm,
		Status:    buildgraph.BuildRunning,
		Order:     order,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	s.executions[exec.ID] = exec
	s.running[name] = exec.ID
	s.mu.Unlock()

	if err := s.store.UpdateBuildStatus(ctx, name, buildgraph.BuildRunning, ""); err != nil {
		s.mu.Lock()
		delete(s.executions, exec.ID)
		delete(s.running, name)
		s.mu.Unlock()
		cancel()
		return nil, err
	}

	for _, task := range order {
		if err := s.store.UpdateTaskStatus(ctx, task, buildgraph.TaskPending, ""); err != nil {
			s.logger.Warn("reset task status", "task", task, "error", err)
		}
	}

	s.logger.Info("execution started", "execution", exec.ID, "build", name, "tasks", len(order))
	snapshot := *exec
	go s.runExecution(runCtx, exec)
	return &snapshot, nil
}

// runExecution walks the order until done, cancelled or failed. Status
// stamps use a background context so terminal states land even after
// the execution context is cancelled.
func (s *Service) runExecution(ctx context.Context, exec *Execution) {
	defer exec.cancel()
	stamp := context.Background()

	finish := func(status buildgraph.BuildStatus, detail string) {
		if err := s.store.UpdateBuildStatus(stamp, exec.BuildName, status, detail); err != nil {
			s.logger.Error("stamp build status", "build", exec.BuildName, "status", status, "error", err)
		}
		now := time.Now().UTC()
		s.mu.Lock()
		exec.Status = status
		exec.Detail = detail
		exec.FinishedAt = &now
		delete(s.running, exec.BuildName)
		s.mu.Unlock()
		executionsTotal.WithLabelValues(string(status)).Inc()
		s.logger.Info("execution finished", "execution", exec.ID, "build", exec.BuildName, "status", status)
	}

	for _, task := range exec.Order {
		select {
		case <-ctx.Done():
			finish(buildgraph.BuildCancelled, "")
			return
		default:
		}

		if err := s.store.UpdateTaskStatus(stamp, task, buildgraph.TaskRunning, ""); err != nil {
			finish(buildgraph.BuildFailed, fmt.Sprintf("task %s: %v", task, err))
			return
		}

		if s.stepDelay > 0 {
			select {
			case <-ctx.Done():
				if err := s.store.UpdateTaskStatus(stamp, task, buildgraph.TaskPending, ""); err != nil {
					s.logger.Warn("reset task status", "task", task, "error", err)
				}
				finish(buildgraph.BuildCancelled, "")
				return
			case <-time.After(s.stepDelay):
			}
		}

		if err := s.store.UpdateTaskStatus(stamp, task, buildgraph.TaskCompleted, ""); err != nil {
			finish(buildgraph.BuildFailed, fmt.Sprintf("task %s: %v", task, err))
			return
		}

		s.mu.Lock()
		exec.Position++
		s.mu.Unlock()
	}

	finish(buildgraph.BuildCompleted, "")
}

// GetExecution returns a snapshot of the identified execution, or
// ErrExecutionNotFound.
func (s *Service) GetExecution(id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", buildgraph.ErrExecutionNotFound, id)
	}
	snapshot := *exec
	return &snapshot, nil
}

// ListExecutions returns snapshots of every tracked execution, newest
// first.
func (s *Service) ListExecutions() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, *exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// CancelExecution asks a live execution to stop at the next step
// boundary. Finished executions return ErrExecutionFinished.
func (s *Service) CancelExecution(id string) error {
	s.mu.Lock()
	exec, ok := s.executions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", buildgraph.ErrExecutionNotFound, id)
	}
	if exec.finished() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", buildgraph.ErrExecutionFinished, id)
	}
	cancel := exec.cancel
	s.mu.Unlock()

	cancel()
	s.logger.Info("execution cancel requested", "execution", id, "build", exec.BuildName)
	return nil
}

// BuildState reports the build's status alongside the status of each
// member task with a record, in member order.
func (s *Service) BuildState(ctx context.Context, name string) (*BuildState, error) {
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

	state := &BuildState{
		Name:   build.Name,
		Status: build.Status,
		Tasks:  make([]TaskState, 0, len(build.Tasks)),
	}
	for _, member := range build.Tasks {
		task := members[member]
		if task == nil {
			continue
		}
		state.Tasks = append(state.Tasks, TaskState{Name: task.Name, Status: task.Status})
	}

	s.mu.Lock()
	state.ExecutionID = s.running[name]
	s.mu.Unlock()
	return state, nil
}
