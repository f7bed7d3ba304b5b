package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jorgevx/escriba/pkg/document"
)

// Compile-time assertion that MemBackend satisfies the Backend interface.
var _ Backend = (*MemBackend)(nil)

// MemBackend is a thread-safe, in-memory implementation of [Backend].
// It is suitable for single-process use and testing.
// The zero value is ready to use.
type MemBackend struct {
	mu   sync.RWMutex
	docs map[string]Snapshot
	logs map[string][]EditLogEntry
}

// NewMemBackend returns an initialised [MemBackend].
func NewMemBackend() *MemBackend {
	return &MemBackend{
		docs: make(map[string]Snapshot),
		logs: make(map[string][]EditLogEntry),
	}
}

// LoadDocument implements [Backend.LoadDocument].
func (b *MemBackend) LoadDocument(ctx context.Context, jobID string) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap, ok := b.docs[jobID]
	if !ok {
		return Snapshot{}, fmt.Errorf("docstore: %s: %w", jobID, ErrNotFound)
	}
	snap.Document = cloneDocument(snap.Document)
	return snap, nil
}

// StoreDocument implements [Backend.StoreDocument].
func (b *MemBackend) StoreDocument(ctx context.Context, snap Snapshot, expectedVersion int64, entry EditLogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.docs == nil {
		b.docs = make(map[string]Snapshot)
		b.logs = make(map[string][]EditLogEntry)
	}

	current, exists := b.docs[snap.JobID]
	if expectedVersion == 0 {
		if exists {
			return fmt.Errorf("docstore: %s: %w", snap.JobID, ErrAlreadyExists)
		}
	} else {
		if !exists {
			return fmt.Errorf("docstore: %s: %w", snap.JobID, ErrNotFound)
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("docstore: %s: expected version %d, have %d: %w",
				snap.JobID, expectedVersion, current.Version, ErrVersionConflict)
		}
	}

	snap.Document = cloneDocument(snap.Document)
	b.docs[snap.JobID] = snap
	b.logs[snap.JobID] = append(b.logs[snap.JobID], entry)
	return nil
}

// DeleteDocument implements [Backend.DeleteDocument].
func (b *MemBackend) DeleteDocument(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.docs[jobID]; !ok {
		return fmt.Errorf("docstore: %s: %w", jobID, ErrNotFound)
	}
	delete(b.docs, jobID)
	delete(b.logs, jobID)
	return nil
}

// EditLog implements [Backend.EditLog].
func (b *MemBackend) EditLog(ctx context.Context, jobID string) ([]EditLogEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.logs[jobID]
	out := make([]EditLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ListJobIDs implements [Backend.ListJobIDs].
func (b *MemBackend) ListJobIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.docs))
	for id := range b.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// cloneDocument deep-copies doc so stored snapshots never alias caller
// memory.
func cloneDocument(doc document.Document) document.Document {
	out := doc

	out.Conversation = make([]document.Segment, len(doc.Conversation))
	copy(out.Conversation, doc.Conversation)

	if doc.Header.Mapping != nil {
		out.Header.Mapping = make(document.SpeakerMapping, len(doc.Header.Mapping))
		for label, ref := range doc.Header.Mapping {
			out.Header.Mapping[label] = ref
		}
	}
	if doc.Header.Diarization != nil {
		out.Header.Diarization = make([]document.DiarizationTurn, len(doc.Header.Diarization))
		copy(out.Header.Diarization, doc.Header.Diarization)
	}
	if doc.Header.Roster != nil {
		out.Header.Roster = make([]document.RosterParticipant, len(doc.Header.Roster))
		copy(out.Header.Roster, doc.Header.Roster)
	}
	return out
}
