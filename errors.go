package buildgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycleDetected  = errors.New("buildgraph: cycle detected, graph is not acyclic")
	ErrMissingTasks   = errors.New("buildgraph: referenced task does not exist")
	ErrSortFailed     = errors.New("buildgraph: topological sort failed")
	ErrBuildNotFound  = errors.New("buildgraph: build not found")
	ErrTaskNotFound   = errors.New("buildgraph: task not found")
	ErrTaskExists     = errors.New("buildgraph: task already exists")
	ErrBuildExists    = errors.New("buildgraph: build already exists")
	ErrTaskReferenced = errors.New("buildgraph: task is required by other tasks")
	ErrSelfDependency = errors.New("buildgraph: task requires itself")
	ErrBuildRunning   = errors.New("buildgraph: build is already running")

	ErrExecutionNotFound = errors.New("buildgraph: execution not found")
	ErrExecutionFinished = errors.New("buildgraph: execution already finished")
)

// CycleError reports the dependency cycles that prevent an ordering.
// Each cycle lists the task names along the loop, closed by repeating
// the entry name at the end.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	if len(e.Cycles) == 0 {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(e.Cycles[0], " -> "))
}

// Is matches ErrCycleDetected so callers can test with errors.Is.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// MissingTasksError reports names referenced by a build's member list or
// by a prerequisite list that have no task record.
type MissingTasksError struct {
	Names []string
}

func (e *MissingTasksError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingTasks.Error(), strings.Join(e.Names, ", "))
}

// Is matches ErrMissingTasks so callers can test with errors.Is.
func (e *MissingTasksError) Is(target error) bool {
	return target == ErrMissingTasks
}

// SortError reports an inability to produce an ordering that is neither
// a missing reference nor a cycle.
type SortError struct {
	BuildName string
	Reason    string
}

func (e *SortError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrSortFailed.Error(), e.BuildName, e.Reason)
}

// Is matches ErrSortFailed so callers can test with errors.Is.
func (e *SortError) Is(target error) bool {
	return target == ErrSortFailed
}
