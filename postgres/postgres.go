// Package postgres implements buildgraph.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/buildgraph"
)

// PGStore implements buildgraph.Store using PostgreSQL via pgx.
type PGStore struct {
	db *pgxpool.Pool
}

var _ buildgraph.Store = (*PGStore)(nil)

// New creates a new PGStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies the database is reachable.
func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("buildgraph: ping: %w", err)
	}
	return nil
}

// isNoRows checks if the error is a "no rows" error from pgx.
func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
