package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jorgevx/escriba/internal/docstore"
	"github.com/jorgevx/escriba/pkg/document"
)

// Compile-time assertion that DocumentBackend satisfies docstore.Backend.
var _ docstore.Backend = (*DocumentBackend)(nil)

// DocumentBackend stores canonical documents as JSONB rows with an
// append-only edit_log table.
//
// Obtain one via [Store.Documents] rather than constructing directly.
// All methods are safe for concurrent use.
type DocumentBackend struct {
	pool *pgxpool.Pool
}

// LoadDocument implements docstore.Backend.
func (b *DocumentBackend) LoadDocument(ctx context.Context, jobID string) (docstore.Snapshot, error) {
	const q = `SELECT version, doc FROM documents WHERE job_id = $1`

	var (
		version int64
		raw     []byte
	)
	err := b.pool.QueryRow(ctx, q, jobID).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Snapshot{}, fmt.Errorf("postgres store: %s: %w", jobID, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("postgres store: load document: %w", err)
	}

	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("postgres store: decode document %s: %w", jobID, err)
	}
	return docstore.Snapshot{JobID: jobID, Version: version, Document: doc}, nil
}

// StoreDocument implements docstore.Backend. The document row and the edit
// log entry are written in one transaction; the compare-and-swap on version
// guarantees lost updates surface as docstore.ErrVersionConflict.
func (b *DocumentBackend) StoreDocument(ctx context.Context, snap docstore.Snapshot, expectedVersion int64, entry docstore.EditLogEntry) error {
	raw, err := json.Marshal(snap.Document)
	if err != nil {
		return fmt.Errorf("postgres store: encode document %s: %w", snap.JobID, err)
	}
	before, after, err := encodeLogValues(entry)
	if err != nil {
		return fmt.Errorf("postgres store: encode log entry %s: %w", snap.JobID, err)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if expectedVersion == 0 {
		const insert = `
			INSERT INTO documents (job_id, version, doc, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (job_id) DO NOTHING`
		tag, err := tx.Exec(ctx, insert, snap.JobID, snap.Version, raw, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("postgres store: insert document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres store: %s: %w", snap.JobID, docstore.ErrAlreadyExists)
		}
	} else {
		const update = `
			UPDATE documents
			SET    version = $2, doc = $3, updated_at = $4
			WHERE  job_id = $1 AND version = $5`
		tag, err := tx.Exec(ctx, update, snap.JobID, snap.Version, raw, entry.Timestamp, expectedVersion)
		if err != nil {
			return fmt.Errorf("postgres store: update document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres store: %s: %w", snap.JobID, docstore.ErrVersionConflict)
		}
	}

	const insertLog = `
		INSERT INTO edit_log (job_id, version, kind, before, after, actor, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insertLog,
		entry.JobID, entry.Version, string(entry.Kind), before, after,
		entry.Actor, entry.Comment, entry.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres store: insert edit log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// DeleteDocument implements docstore.Backend.
func (b *DocumentBackend) DeleteDocument(ctx context.Context, jobID string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("postgres store: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: %s: %w", jobID, docstore.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM edit_log WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("postgres store: delete edit log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// EditLog implements docstore.Backend. Entries are returned oldest first.
func (b *DocumentBackend) EditLog(ctx context.Context, jobID string) ([]docstore.EditLogEntry, error) {
	const q = `
		SELECT version, kind, before, after, actor, comment, created_at
		FROM   edit_log
		WHERE  job_id = $1
		ORDER  BY id`

	rows, err := b.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: edit log: %w", err)
	}
	defer rows.Close()

	var entries []docstore.EditLogEntry
	for rows.Next() {
		var (
			e             docstore.EditLogEntry
			kind          string
			before, after []byte
		)
		if err := rows.Scan(&e.Version, &kind, &before, &after, &e.Actor, &e.Comment, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres store: scan edit log: %w", err)
		}
		e.JobID = jobID
		e.Kind = docstore.EntryKind(kind)
		if len(before) > 0 {
			var v json.RawMessage = before
			e.Before = v
		}
		if len(after) > 0 {
			var v json.RawMessage = after
			e.After = v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: edit log rows: %w", err)
	}
	return entries, nil
}

// ListJobIDs implements docstore.Backend.
func (b *DocumentBackend) ListJobIDs(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT job_id FROM documents ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list job ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list job ids rows: %w", err)
	}
	return ids, nil
}

// encodeLogValues marshals the entry's before/after values for their JSONB
// columns, keeping nils as SQL NULL.
func encodeLogValues(entry docstore.EditLogEntry) (before, after []byte, err error) {
	if entry.Before != nil {
		if before, err = json.Marshal(entry.Before); err != nil {
			return nil, nil, err
		}
	}
	if entry.After != nil {
		if after, err = json.Marshal(entry.After); err != nil {
			return nil, nil, err
		}
	}
	return before, after, nil
}
