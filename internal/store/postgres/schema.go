// Package postgres provides the PostgreSQL-backed persistence layer: the
// document backend used by the document store and the job record store used
// by the job manager.
//
// Both share a single [pgxpool.Pool] connection pool. [NewStore] runs
// [Migrate] so all required tables exist before the first query.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	docs := docstore.New(store.Documents())
//	jobs := job.NewManager(store.Jobs(), …)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    job_id      TEXT         PRIMARY KEY,
    version     BIGINT       NOT NULL,
    doc         JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS edit_log (
    id          BIGSERIAL    PRIMARY KEY,
    job_id      TEXT         NOT NULL,
    version     BIGINT       NOT NULL,
    kind        TEXT         NOT NULL,
    before      JSONB,
    after       JSONB,
    actor       TEXT         NOT NULL DEFAULT '',
    comment     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_edit_log_job_id
    ON edit_log (job_id, id);
`

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT         PRIMARY KEY,
    state       TEXT         NOT NULL,
    record      JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_state
    ON jobs (state);

CREATE INDEX IF NOT EXISTS idx_jobs_updated_at
    ON jobs (updated_at);
`

// Migrate creates all tables and indexes the store needs. It is idempotent
// and safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlDocuments, ddlJobs} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}
