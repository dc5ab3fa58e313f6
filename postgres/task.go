package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/buildgraph"
)

// PutTask inserts or replaces a task by name. The stored record keeps
// its original creation time across replacements; both timestamps are
// written back to t.
func (s *PGStore) PutTask(ctx context.Context, t *buildgraph.Task) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO buildgraph_tasks (name, requires, status, detail)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET requires   = EXCLUDED.requires,
		     status     = EXCLUDED.status,
		     detail     = EXCLUDED.detail,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		t.Name, requiresArg(t), t.Status, t.Detail,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("buildgraph: put task %s: %w", t.Name, err)
	}
	return nil
}

// PutTasks inserts or replaces every task in one transaction.
func (s *PGStore) PutTasks(ctx context.Context, tasks []buildgraph.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("buildgraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range tasks {
		t := &tasks[i]
		err := tx.QueryRow(ctx,
			`INSERT INTO buildgraph_tasks (name, requires, status, detail)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (name) DO UPDATE
			 SET requires   = EXCLUDED.requires,
			     status     = EXCLUDED.status,
			     detail     = EXCLUDED.detail,
			     updated_at = NOW()
			 RETURNING created_at, updated_at`,
			t.Name, requiresArg(t), t.Status, t.Detail,
		).Scan(&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("buildgraph: put task %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("buildgraph: commit tx: %w", err)
	}
	return nil
}

// GetTask fetches a single task by name.
// Returns nil, nil if not found.
func (s *PGStore) GetTask(ctx context.Context, name string) (*buildgraph.Task, error) {
	var t buildgraph.Task
	err := s.db.QueryRow(ctx,
		`SELECT name, requires, status, detail, created_at, updated_at
		 FROM buildgraph_tasks WHERE name = $1`, name,
	).Scan(&t.Name, &t.Requires, &t.Status, &t.Detail, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildgraph: get task %s: %w", name, err)
	}
	return &t, nil
}

// GetTasks fetches the named tasks in one round trip, keyed by name.
// Absent names are simply not in the result.
func (s *PGStore) GetTasks(ctx context.Context, names []string) (map[string]*buildgraph.Task, error) {
	found := make(map[string]*buildgraph.Task, len(names))
	if len(names) == 0 {
		return found, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT name, requires, status, detail, created_at, updated_at
		 FROM buildgraph_tasks WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("buildgraph: get tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t buildgraph.Task
		if err := rows.Scan(&t.Name, &t.Requires, &t.Status, &t.Detail, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("buildgraph: scan task: %w", err)
		}
		found[t.Name] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buildgraph: rows tasks: %w", err)
	}

	return found, nil
}

// ListTasks returns all tasks ordered by name.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListTasks(ctx context.Context) ([]buildgraph.Task, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, requires, status, detail, created_at, updated_at
		 FROM buildgraph_tasks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("buildgraph: list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []buildgraph.Task{}
	for rows.Next() {
		var t buildgraph.Task
		if err := rows.Scan(&t.Name, &t.Requires, &t.Status, &t.Detail, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("buildgraph: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buildgraph: rows tasks: %w", err)
	}

	return tasks, nil
}

// HasTask reports whether a task with the given name exists.
func (s *PGStore) HasTask(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM buildgraph_tasks WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("buildgraph: has task %s: %w", name, err)
	}
	return exists, nil
}

// ListDependents returns the names of tasks whose requires list contains
// name, excluding the task itself, ordered by name. The jsonb exists
// operator rides the GIN index on requires.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListDependents(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name FROM buildgraph_tasks WHERE requires ? $1 AND name <> $1 ORDER BY name`, name)
	if err != nil {
		return nil, fmt.Errorf("buildgraph: list dependents of %s: %w", name, err)
	}
	defer rows.Close()

	dependents := []string{}
	for rows.Next() {
		var dependent string
		if err := rows.Scan(&dependent); err != nil {
			return nil, fmt.Errorf("buildgraph: scan dependent: %w", err)
		}
		dependents = append(dependents, dependent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buildgraph: rows dependents: %w", err)
	}

	return dependents, nil
}

// UpdateTaskStatus sets the status and detail of the named task.
// Returns ErrTaskNotFound if the task doesn't exist.
func (s *PGStore) UpdateTaskStatus(ctx context.Context, name string, status buildgraph.TaskStatus, detail string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE buildgraph_tasks SET status = $1, detail = $2, updated_at = NOW() WHERE name = $3`,
		status, detail, name,
	)
	if err != nil {
		return fmt.Errorf("buildgraph: update task status %s: %w", name, err)
	}
	if ct.RowsAffected() == 0 {
		return buildgraph.ErrTaskNotFound
	}
	return nil
}

// DeleteTask deletes a task by name.
// Returns ErrTaskNotFound if the task doesn't exist.
func (s *PGStore) DeleteTask(ctx context.Context, name string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM buildgraph_tasks WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("buildgraph: delete task %s: %w", name, err)
	}
	if ct.RowsAffected() == 0 {
		return buildgraph.ErrTaskNotFound
	}
	return nil
}

// requiresArg normalizes a nil prerequisite list to an empty jsonb
// array so the column never holds null.
func requiresArg(t *buildgraph.Task) []string {
	if t.Requires == nil {
		return []string{}
	}
	return t.Requires
}
