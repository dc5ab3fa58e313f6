package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/buildgraph"
)

// PutBuild inserts or replaces a build by name. The stored record keeps
// its original creation time across replacements; both timestamps are
// written back to b.
func (s *PGStore) PutBuild(ctx context.Context, b *buildgraph.Build) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO buildgraph_builds (name, tasks, status, detail)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET tasks      = EXCLUDED.tasks,
		     status     = EXCLUDED.status,
		     detail     = EXCLUDED.detail,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		b.Name, tasksArg(b), b.Status, b.Detail,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("buildgraph: put build %s: %w", b.Name, err)
	}
	return nil
}

// PutBuilds inserts or replaces every build in one transaction.
func (s *PGStore) PutBuilds(ctx context.Context, builds []buildgraph.Build) error {
	if len(builds) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("buildgraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range builds {
		b := &builds[i]
		err := tx.QueryRow(ctx,
			`INSERT INTO buildgraph_builds (name, tasks, status, detail)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (name) DO UPDATE
			 SET tasks      = EXCLUDED.tasks,
			     status     = EXCLUDED.status,
			     detail     = EXCLUDED.detail,
			     updated_at = NOW()
			 RETURNING created_at, updated_at`,
			b.Name, tasksArg(b), b.Status, b.Detail,
		).Scan(&b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("buildgraph: put build %s: %w", b.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("buildgraph: commit tx: %w", err)
	}
	return nil
}

// GetBuild fetches a single build by name.
// Returns nil, nil if not found.
func (s *PGStore) GetBuild(ctx context.Context, name string) (*buildgraph.Build, error) {
	var b buildgraph.Build
	err := s.db.QueryRow(ctx,
		`SELECT name, tasks, status, detail, created_at, updated_at
		 FROM buildgraph_builds WHERE name = $1`, name,
	).Scan(&b.Name, &b.Tasks, &b.Status, &b.Detail, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildgraph: get build %s: %w", name, err)
	}
	return &b, nil
}

// ListBuilds returns all builds ordered by name.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListBuilds(ctx context.Context) ([]buildgraph.Build, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, tasks, status, detail, created_at, updated_at
		 FROM buildgraph_builds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("buildgraph: list builds: %w", err)
	}
	defer rows.Close()

	builds := []buildgraph.Build{}
	for rows.Next() {
		var b buildgraph.Build
		if err := rows.Scan(&b.Name, &b.Tasks, &b.Status, &b.Detail, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("buildgraph: scan build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buildgraph: rows builds: %w", err)
	}

	return builds, nil
}

// HasBuild reports whether a build with the given name exists.
func (s *PGStore) HasBuild(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM buildgraph_builds WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("buildgraph: has build %s: %w", name, err)
	}
	return exists, nil
}

// UpdateBuildStatus sets the status and detail of the named build.
// Returns ErrBuildNotFound if the build doesn't exist.
func (s *PGStore) UpdateBuildStatus(ctx context.Context, name string, status buildgraph.BuildStatus, detail string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE buildgraph_builds SET status = $1, detail = $2, updated_at = NOW() WHERE name = $3`,
		status, detail, name,
	)
	if err != nil {
		return fmt.Errorf("buildgraph: update build status %s: %w", name, err)
	}
	if ct.RowsAffected() == 0 {
		return buildgraph.ErrBuildNotFound
	}
	return nil
}

// DeleteBuild deletes a build by name.
// Returns ErrBuildNotFound if the build doesn't exist.
func (s *PGStore) DeleteBuild(ctx context.Context, name string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM buildgraph_builds WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("buildgraph: delete build %s: %w", name, err)
	}
	if ct.RowsAffected() == 0 {
		return buildgraph.ErrBuildNotFound
	}
	return nil
}

// tasksArg normalizes a nil member list to an empty jsonb array so the
// column never holds null.
func tasksArg(b *buildgraph.Build) []string {
	if b.Tasks == nil {
		return []string{}
	}
	return b.Tasks
}
