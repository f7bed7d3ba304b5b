package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jorgevx/escriba/internal/job"
)

// Compile-time assertion that JobStore satisfies job.Store.
var _ job.Store = (*JobStore)(nil)

// JobStore persists job records as JSONB rows with the state denormalised
// into its own column for filtering.
//
// Obtain one via [Store.Jobs] rather than constructing directly.
// All methods are safe for concurrent use.
type JobStore struct {
	pool *pgxpool.Pool
}

// Create implements [job.Store.Create].
func (s *JobStore) Create(ctx context.Context, j job.Job) error {
	record, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("postgres store: encode job %s: %w", j.ID, err)
	}

	const q = `
		INSERT INTO jobs (id, state, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now())`
	if _, err := s.pool.Exec(ctx, q, j.ID, string(j.State), record, j.CreatedAt); err != nil {
		return fmt.Errorf("postgres store: create job %s: %w", j.ID, err)
	}
	return nil
}

// Get implements [job.Store.Get].
func (s *JobStore) Get(ctx context.Context, id string) (job.Job, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM jobs WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("postgres store: get job %s: %w", id, err)
	}

	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return job.Job{}, fmt.Errorf("postgres store: decode job %s: %w", id, err)
	}
	return j, nil
}

// Update implements [job.Store.Update].
func (s *JobStore) Update(ctx context.Context, j job.Job) error {
	record, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("postgres store: encode job %s: %w", j.ID, err)
	}

	const q = `
		UPDATE jobs
		SET    state = $2, record = $3, updated_at = now()
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, j.ID, string(j.State), record)
	if err != nil {
		return fmt.Errorf("postgres store: update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

// List implements [job.Store.List]. Jobs are returned ordered by creation
// time, oldest first.
func (s *JobStore) List(ctx context.Context, opts job.ListOptions) ([]job.Job, error) {
	q := `SELECT record FROM jobs`
	var args []any
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		q += ` WHERE state = ANY($1)`
		args = append(args, states)
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres store: scan job: %w", err)
		}
		var j job.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("postgres store: decode job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list jobs rows: %w", err)
	}
	return jobs, nil
}
