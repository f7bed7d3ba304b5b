// Package docstore is the authoritative store for canonical documents and the
// only component allowed to mutate them after a job completes.
//
// Every write operation appends exactly one edit-log entry, regenerates the
// structured-text projection and the metadata totals, and bumps the
// document's optimistic version. Writes for the same job are serialized; a
// caller presenting a stale version receives [ErrVersionConflict] and is
// expected to re-read.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jorgevx/escriba/pkg/document"
)

// Sentinel errors surfaced to edit-API callers. They are never fatal to the
// stored document.
var (
	// ErrNotFound indicates no document exists for the job.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists indicates a document was already created for the job.
	// Documents are created exactly once; use Replace for full rewrites.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrVersionConflict indicates the caller's expected version is stale.
	ErrVersionConflict = errors.New("document version conflict")

	// ErrUnknownSpeaker indicates a speaker display name absent from the
	// header mapping.
	ErrUnknownSpeaker = errors.New("unknown speaker")

	// ErrDuplicateName indicates a speaker display name that already exists.
	ErrDuplicateName = errors.New("duplicate speaker name")

	// ErrSpeakerInUse indicates a speaker still referenced by segments.
	ErrSpeakerInUse = errors.New("speaker still referenced by segments")

	// ErrValidation indicates an edit that would violate a document
	// invariant.
	ErrValidation = errors.New("validation failed")
)

// EntryKind names the edit operation recorded in a log entry.
type EntryKind string

const (
	KindSegmentEdit     EntryKind = "segment.edit"
	KindSegmentAdd      EntryKind = "segment.add"
	KindSegmentDelete   EntryKind = "segment.delete"
	KindSpeakerAdd      EntryKind = "speaker.add"
	KindSpeakerRename   EntryKind = "speaker.rename"
	KindSpeakerDelete   EntryKind = "speaker.delete"
	KindDocumentReplace EntryKind = "document.replace"
	KindDocumentCreate  EntryKind = "document.create"
)

// EditLogEntry is one append-only record of a document mutation. Entries
// reference jobs and versions by identifier, never by pointer; the store
// resolves them on read.
type EditLogEntry struct {
	JobID     string    `json:"job_id"`
	Version   int64     `json:"version"`
	Kind      EntryKind `json:"kind"`
	Before    any       `json:"before,omitempty"`
	After     any       `json:"after,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// Backend is the persistence contract the store runs on. Implementations:
// the in-memory [MemBackend] and the PostgreSQL backend in
// internal/store/postgres.
//
// StoreDocument must persist the document and the log entry atomically and
// must fail with [ErrVersionConflict] when expectedVersion no longer matches
// the stored version. expectedVersion 0 means "create"; creation fails with
// [ErrAlreadyExists] when a document is already present.
type Backend interface {
	LoadDocument(ctx context.Context, jobID string) (Snapshot, error)
	StoreDocument(ctx context.Context, snap Snapshot, expectedVersion int64, entry EditLogEntry) error
	DeleteDocument(ctx context.Context, jobID string) error
	EditLog(ctx context.Context, jobID string) ([]EditLogEntry, error)
	ListJobIDs(ctx context.Context) ([]string, error)
}

// Snapshot pairs a document with its optimistic version.
type Snapshot struct {
	JobID    string
	Version  int64
	Document document.Document
}

// Result is returned by every successful write operation.
type Result struct {
	NewVersion int64
	Metadata   document.Metadata
}

// Store is the document store component. It owns per-job write serialization;
// backends only need compare-and-swap semantics.
type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Store on top of backend.
func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// jobLock returns the mutex serializing writes for jobID.
func (s *Store) jobLock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Create stores the document produced by reconciliation. It is called exactly
// once per job, when the job reaches completion.
func (s *Store) Create(ctx context.Context, jobID string, doc document.Document) (Result, error) {
	l := s.jobLock(jobID)
	l.Lock()
	defer l.Unlock()

	now := s.now().UTC()
	snap := Snapshot{JobID: jobID, Version: 1, Document: doc}
	entry := EditLogEntry{
		JobID:     jobID,
		Version:   1,
		Kind:      KindDocumentCreate,
		Actor:     doc.Metadata.LastEditor,
		Timestamp: now,
	}
	if err := s.backend.StoreDocument(ctx, snap, 0, entry); err != nil {
		return Result{}, fmt.Errorf("docstore: create %s: %w", jobID, err)
	}
	return Result{NewVersion: 1, Metadata: doc.Metadata}, nil
}

// Get returns the current document and its version.
func (s *Store) Get(ctx context.Context, jobID string) (document.Document, int64, error) {
	snap, err := s.backend.LoadDocument(ctx, jobID)
	if err != nil {
		return document.Document{}, 0, err
	}
	return snap.Document, snap.Version, nil
}

// Delete removes the document and its edit log. Used by the revert and
// restart flows as a compensating operation.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	l := s.jobLock(jobID)
	l.Lock()
	defer l.Unlock()
	return s.backend.DeleteDocument(ctx, jobID)
}

// EditLog returns the append-only edit history for the job, oldest first.
func (s *Store) EditLog(ctx context.Context, jobID string) ([]EditLogEntry, error) {
	return s.backend.EditLog(ctx, jobID)
}

// ListJobIDs returns the ids of all jobs with a stored document.
func (s *Store) ListJobIDs(ctx context.Context) ([]string, error) {
	return s.backend.ListJobIDs(ctx)
}

// apply runs one edit under the job's write lock: load, mutate, validate,
// regenerate derived fields, and store document + log entry atomically.
// The document is never left partially mutated; any failure surfaces before
// the backend write.
func (s *Store) apply(ctx context.Context, jobID string, expectedVersion int64, actor, comment string, edit edit) (Result, error) {
	l := s.jobLock(jobID)
	l.Lock()
	defer l.Unlock()

	snap, err := s.backend.LoadDocument(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if expectedVersion != 0 && expectedVersion != snap.Version {
		return Result{}, fmt.Errorf("docstore: %s: expected version %d, have %d: %w",
			jobID, expectedVersion, snap.Version, ErrVersionConflict)
	}

	if ha, ok := edit.(historyAware); ok {
		entries, err := s.backend.EditLog(ctx, jobID)
		if err != nil {
			return Result{}, err
		}
		ha.loadHistory(entries)
	}

	doc := snap.Document
	before, after, err := edit.apply(&doc)
	if err != nil {
		return Result{}, err
	}

	now := s.now().UTC()
	doc.RebuildDerived(actor, now)
	if err := document.Validate(&doc); err != nil {
		return Result{}, fmt.Errorf("docstore: %s: %v: %w", jobID, err, ErrValidation)
	}

	newVersion := snap.Version + 1
	entry := EditLogEntry{
		JobID:     jobID,
		Version:   newVersion,
		Kind:      edit.kind(),
		Before:    before,
		After:     after,
		Actor:     actor,
		Timestamp: now,
		Comment:   comment,
	}
	newSnap := Snapshot{JobID: jobID, Version: newVersion, Document: doc}
	if err := s.backend.StoreDocument(ctx, newSnap, snap.Version, entry); err != nil {
		return Result{}, fmt.Errorf("docstore: store %s: %w", jobID, err)
	}
	return Result{NewVersion: newVersion, Metadata: doc.Metadata}, nil
}
