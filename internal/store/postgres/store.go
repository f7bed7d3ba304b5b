package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central PostgreSQL-backed persistence layer. It holds a single
// [pgxpool.Pool] and exposes the two record families:
//
//   - [Store.Documents] returns a [DocumentBackend] implementing docstore.Backend
//   - [Store.Jobs] returns a [JobStore] implementing job.Store
//
// All operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	documents *DocumentBackend
	jobs      *JobStore
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:      pool,
		documents: &DocumentBackend{pool: pool},
		jobs:      &JobStore{pool: pool},
	}, nil
}

// Documents returns the document backend which satisfies docstore.Backend.
func (s *Store) Documents() *DocumentBackend { return s.documents }

// Jobs returns the job record store which satisfies job.Store.
func (s *Store) Jobs() *JobStore { return s.jobs }

// Ping verifies database connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
