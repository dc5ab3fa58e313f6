// Package buildgraph computes execution orderings for sets of
// interdependent build tasks backed by a pluggable Store.
package buildgraph

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskStatus tracks a task through an execution run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// BuildStatus tracks a build through an execution run.
type BuildStatus string

const (
	BuildPending   BuildStatus = "pending"
	BuildRunning   BuildStatus = "running"
	BuildCompleted BuildStatus = "completed"
	BuildFailed    BuildStatus = "failed"
	BuildCancelled BuildStatus = "cancelled"
)

// Algorithm selects a topological ordering strategy.
type Algorithm string

const (
	AlgorithmKahn Algorithm = "kahn"
	AlgorithmDFS  Algorithm = "dfs"
)

// Task is a unit of work identified by name.
// Requires holds the names of tasks that must complete first. They are
// weak references resolved against the task universe at query time; a
// task never owns the tasks it requires.
type Task struct {
	Name      string     `json:"name" yaml:"name" validate:"required"`
	Requires  []string   `json:"requires" yaml:"requires" validate:"unique,dive,required"`
	Status    TaskStatus `json:"status,omitempty" yaml:"-"`
	Detail    string     `json:"detail,omitempty" yaml:"-"`
	CreatedAt time.Time  `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// Validate checks the construction invariants: non-empty name, no
// duplicate prerequisites, and no self-dependency.
func (t *Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("buildgraph: invalid task: %w", err)
	}
	for _, name := range t.Requires {
		if name == t.Name {
			return fmt.Errorf("%w: %s", ErrSelfDependency, t.Name)
		}
	}
	return nil
}

// HasPrerequisites reports whether the task requires any other task.
func (t *Task) HasPrerequisites() bool {
	return len(t.Requires) > 0
}

// IsReady reports whether every prerequisite is in the completed set.
func (t *Task) IsReady(completed map[string]bool) bool {
	for _, name := range t.Requires {
		if !completed[name] {
			return false
		}
	}
	return true
}

// Build is a named, ordered selection of tasks to resolve together.
// Tasks holds member names resolved against the task universe at
// resolution time; a member without a task record is a referential
// integrity failure, not a cycle.
type Build struct {
	Name      string      `json:"name" yaml:"name" validate:"required"`
	Tasks     []string    `json:"tasks" yaml:"tasks" validate:"required,min=1,unique,dive,required"`
	Status    BuildStatus `json:"status,omitempty" yaml:"-"`
	Detail    string      `json:"detail,omitempty" yaml:"-"`
	CreatedAt time.Time   `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time   `json:"updated_at,omitempty" yaml:"-"`
}

// Validate checks the construction invariants: non-empty name and a
// non-empty member list without duplicates.
func (b *Build) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("buildgraph: invalid build: %w", err)
	}
	return nil
}

// SortedTaskList is the outcome of resolving one build with one
// algorithm. It is never mutated after creation; changed inputs produce
// a new result.
type SortedTaskList struct {
	BuildName string     `json:"build_name"`
	Tasks     []string   `json:"tasks"`
	Algorithm Algorithm  `json:"algorithm"`
	ElapsedMS float64    `json:"elapsed_ms"`
	HasCycles bool       `json:"has_cycles"`
	Cycles    [][]string `json:"cycles,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

var validate = validator.New()
