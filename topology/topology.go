// Package topology orders a build's tasks so that every task appears
// after the tasks it requires, and reports the dependency cycles that
// make such an order impossible.
package topology

import (
	"fmt"
	"sort"
	"time"

	"github.com/meikuraledutech/buildgraph"
)

// Engine validates dependency references, detects cycles and computes
// topological orderings. It holds no state and is safe for concurrent
// use; every call operates only on its arguments.
type Engine struct{}

// New creates a topology engine.
func New() *Engine { return &Engine{} }

// ValidateReferences checks a build against the task universe and
// returns the names that are referenced but absent: members without a
// task record, and prerequisites of present members without a task
// record. The list is de-duplicated in first-seen order; an empty list
// means the build is referentially sound.
func (e *Engine) ValidateReferences(build *buildgraph.Build, universe map[string]*buildgraph.Task) []string {
	missing := []string{}
	seen := make(map[string]bool)
	for _, name := range build.Tasks {
		task, ok := universe[name]
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			continue
		}
		for _, req := range task.Requires {
			if _, ok := universe[req]; ok || seen[req] {
				continue
			}
			seen[req] = true
			missing = append(missing, req)
		}
	}
	return missing
}

// DetectCycles walks the entire universe and returns every dependency
// cycle the traversal discovers, each as the names along the loop with
// the entry name repeated at the end ([a b c a]). Disjoint cycles are
// all reported, not just the first. Names are visited in sorted order
// and prerequisite edges in declared order, so the result is stable for
// a given universe. Prerequisites without a task record are not edges
// and are skipped. Returns an empty list for an acyclic universe.
func (e *Engine) DetectCycles(universe map[string]*buildgraph.Task) [][]string {
	names := make([]string, 0, len(universe))
	for name := range universe {
		names = append(names, name)
	}
	sort.Strings(names)

	return findCycles(names, universe, func(name string) bool {
		_, ok := universe[name]
		return ok
	})
}

// Sort produces a total order over the build's member names consistent
// with the dependency partial order restricted to the member set. A
// prerequisite outside the member set must exist in the universe but is
// excluded from the ordering. References are validated first; missing
// names surface as a MissingTasksError before any ordering runs, and
// cycles among members surface as a CycleError carrying the full loop.
// The two algorithms both produce valid orders but are not guaranteed
// to produce the same one. Elapsed time on the result is informational.
func (e *Engine) Sort(build *buildgraph.Build, universe map[string]*buildgraph.Task, algorithm buildgraph.Algorithm) (*buildgraph.SortedTaskList, error) {
	start := time.Now()

	if missing := e.ValidateReferences(build, universe); len(missing) > 0 {
		return nil, &buildgraph.MissingTasksError{Names: missing}
	}

	var order []string
	var err error
	switch algorithm {
	case buildgraph.AlgorithmKahn:
		order, err = kahnSort(build, universe)
	case buildgraph.AlgorithmDFS:
		order, err = dfsSort(build, universe)
	default:
		return nil, &buildgraph.SortError{BuildName: build.Name, Reason: fmt.Sprintf("unknown algorithm %q", algorithm)}
	}
	if err != nil {
		return nil, err
	}

	return &buildgraph.SortedTaskList{
		BuildName: build.Name,
		Tasks:     order,
		Algorithm: algorithm,
		ElapsedMS: float64(time.Since(start)) / float64(time.Millisecond),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// kahnSort orders members by repeatedly releasing tasks whose in-build
// prerequisites have all been released. The ready queue is seeded and
// drained in build-list order and dependents are discovered through a
// reverse-edge map built in build-list order, so ties always break the
// same way and the output is exactly reproducible for a given build.
func kahnSort(build *buildgraph.Build, universe map[string]*buildgraph.Task) ([]string, error) {
	members := memberSet(build)

	inDegree := make(map[string]int, len(build.Tasks))
	dependents := make(map[string][]string, len(build.Tasks))
	for _, name := range build.Tasks {
		degree := 0
		for _, req := range universe[name].Requires {
			if members[req] {
				degree++
				dependents[req] = append(dependents[req], name)
			}
		}
		inDegree[name] = degree
	}

	queue := make([]string, 0, len(build.Tasks))
	for _, name := range build.Tasks {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(build.Tasks))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) < len(build.Tasks) {
		// The unresolved remainder contains at least one cycle; search
		// it again to name the loops instead of just counting them.
		ordered := make(map[string]bool, len(order))
		for _, name := range order {
			ordered[name] = true
		}
		remainder := make([]string, 0, len(build.Tasks)-len(order))
		inRemainder := make(map[string]bool)
		for _, name := range build.Tasks {
			if !ordered[name] {
				remainder = append(remainder, name)
				inRemainder[name] = true
			}
		}
		cycles := findCycles(remainder, universe, func(name string) bool { return inRemainder[name] })
		if len(cycles) > 0 {
			return nil, &buildgraph.CycleError{Cycles: cycles}
		}
		return nil, &buildgraph.SortError{BuildName: build.Name, Reason: fmt.Sprintf("unable to sort %d tasks", len(remainder))}
	}

	return order, nil
}

// dfsSort orders members by iterative depth-first traversal, emitting
// each task once all of its in-build prerequisites have been emitted.
// A prerequisite found on the current stack means the graph loops back
// on itself; the search fails immediately with that cycle.
func dfsSort(build *buildgraph.Build, universe map[string]*buildgraph.Task) ([]string, error) {
	members := memberSet(build)

	color := make(map[string]int, len(build.Tasks))
	order := make([]string, 0, len(build.Tasks))
	var path []string
	var stack []frame

	for _, root := range build.Tasks {
		if color[root] != white {
			continue
		}
		color[root] = gray
		path = append(path[:0], root)
		stack = append(stack[:0], frame{name: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			reqs := universe[top.name].Requires
			pushed := false
			for top.next < len(reqs) {
				req := reqs[top.next]
				top.next++
				if !members[req] {
					continue
				}
				switch color[req] {
				case gray:
					return nil, &buildgraph.CycleError{Cycles: [][]string{closeCycle(path, req)}}
				case white:
					color[req] = gray
					path = append(path, req)
					stack = append(stack, frame{name: req})
					pushed = true
				}
				if pushed {
					break
				}
			}
			if pushed {
				continue
			}
			color[top.name] = black
			order = append(order, top.name)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}

	return order, nil
}

const (
	white = iota // unvisited
	gray         // on the current traversal stack
	black        // fully explored
)

// frame is one level of an iterative depth-first search: a task name
// and the index of the next prerequisite edge to follow.
type frame struct {
	name string
	next int
}

// findCycles runs an iterative depth-first search from each root in
// order and collects every cycle reachable through names admitted by
// scope. Edges leaving scope are skipped. Recording a cycle does not
// stop the search; the walk continues so disjoint cycles elsewhere are
// found too.
func findCycles(roots []string, universe map[string]*buildgraph.Task, scope func(string) bool) [][]string {
	color := make(map[string]int, len(roots))
	cycles := [][]string{}
	var path []string
	var stack []frame

	for _, root := range roots {
		if color[root] != white {
			continue
		}
		color[root] = gray
		path = append(path[:0], root)
		stack = append(stack[:0], frame{name: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			var reqs []string
			if task := universe[top.name]; task != nil {
				reqs = task.Requires
			}
			pushed := false
			for top.next < len(reqs) {
				req := reqs[top.next]
				top.next++
				if !scope(req) {
					continue
				}
				switch color[req] {
				case gray:
					cycles = append(cycles, closeCycle(path, req))
				case white:
					color[req] = gray
					path = append(path, req)
					stack = append(stack, frame{name: req})
					pushed = true
				}
				if pushed {
					break
				}
			}
			if pushed {
				continue
			}
			color[top.name] = black
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}

	return cycles
}

// closeCycle copies the path suffix starting at entry and closes the
// loop by repeating entry at the end.
func closeCycle(path []string, entry string) []string {
	start := 0
	for i, name := range path {
		if name == entry {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(path)-start+1)
	cycle = append(cycle, path[start:]...)
	return append(cycle, entry)
}

func memberSet(build *buildgraph.Build) map[string]bool {
	members := make(map[string]bool, len(build.Tasks))
	for _, name := range build.Tasks {
		members[name] = true
	}
	return members
}
