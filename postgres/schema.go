package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS buildgraph_tasks (
    name       TEXT PRIMARY KEY,
    requires   JSONB NOT NULL DEFAULT '[]',
    status     TEXT NOT NULL DEFAULT 'pending',
    detail     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS buildgraph_builds (
    name       TEXT PRIMARY KEY,
    tasks      JSONB NOT NULL DEFAULT '[]',
    status     TEXT NOT NULL DEFAULT 'pending',
    detail     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_buildgraph_tasks_requires ON buildgraph_tasks USING GIN (requires);
CREATE INDEX IF NOT EXISTS idx_buildgraph_tasks_status   ON buildgraph_tasks(status);
CREATE INDEX IF NOT EXISTS idx_buildgraph_builds_status  ON buildgraph_builds(status);
`

// CreateSchema creates the buildgraph_tasks and buildgraph_builds tables
// if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the buildgraph_builds and buildgraph_tasks tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS buildgraph_builds, buildgraph_tasks CASCADE;`)
	return err
}
