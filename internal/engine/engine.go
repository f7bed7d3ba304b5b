// Package engine is the facade external collaborators talk to: submitting
// and controlling jobs, fetching finished documents, and applying edits. It
// composes the job manager and the document store without adding semantics of
// its own beyond the state guards on fetch and revert.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic and is not intended to be imported by
// external code.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jorgevx/escriba/internal/audio"
	"github.com/jorgevx/escriba/internal/docstore"
	"github.com/jorgevx/escriba/internal/job"
	"github.com/jorgevx/escriba/internal/observe"
	"github.com/jorgevx/escriba/pkg/document"
)

// Engine is the orchestration facade.
type Engine struct {
	jobs    *job.Manager
	docs    *docstore.Store
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates an Engine over the given job manager and document store.
func New(jobs *job.Manager, docs *docstore.Store, opts ...Option) *Engine {
	e := &Engine{
		jobs:    jobs,
		docs:    docs,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues a new transcription job.
func (e *Engine) Submit(ctx context.Context, req job.SubmitRequest) (job.Job, error) {
	return e.jobs.Submit(ctx, req)
}

// Poll returns the status view of a job.
func (e *Engine) Poll(ctx context.Context, id string) (job.Status, error) {
	return e.jobs.Poll(ctx, id)
}

// Fetch returns the canonical document of a completed job together with its
// optimistic version. Jobs in any other state yield [job.ErrIllegalState]; a
// completed job whose document was reverted yields [docstore.ErrNotFound].
func (e *Engine) Fetch(ctx context.Context, id string) (document.Document, int64, error) {
	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return document.Document{}, 0, err
	}
	if j.State != job.StateCompleted {
		return document.Document{}, 0, fmt.Errorf("engine: fetch %s in state %s: %w", id, j.State, job.ErrIllegalState)
	}
	return e.docs.Get(ctx, id)
}

// Cancel requests cooperative cancellation of a running job.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	return e.jobs.Cancel(ctx, id)
}

// Restart deletes a terminal job's document and edit log and re-queues the
// job from scratch.
func (e *Engine) Restart(ctx context.Context, id string) error {
	return e.jobs.Restart(ctx, id)
}

// Revert is the compensating operation for a completed job: the document and
// its edit log are deleted while the job record itself stays untouched, so
// the audio artifact reappears in the pending listing and can be resubmitted
// as a fresh job with an independently versioned document.
func (e *Engine) Revert(ctx context.Context, id string) error {
	j, err := e.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.State != job.StateCompleted {
		return fmt.Errorf("engine: revert %s in state %s: %w", id, j.State, job.ErrIllegalState)
	}
	if err := e.docs.Delete(ctx, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("engine: revert %s: already reverted: %w", id, job.ErrIllegalState)
		}
		return fmt.Errorf("engine: revert %s: %w", id, err)
	}
	e.log.Info("document reverted", "job_id", id)
	return nil
}

// CompletedJobs lists jobs whose document is available for fetching and
// editing. Reverted jobs are excluded.
func (e *Engine) CompletedJobs(ctx context.Context) ([]job.Job, error) {
	completed, err := e.jobs.List(ctx, job.ListOptions{States: []job.State{job.StateCompleted}})
	if err != nil {
		return nil, err
	}
	withDocs, err := e.docs.ListJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	docSet := make(map[string]struct{}, len(withDocs))
	for _, id := range withDocs {
		docSet[id] = struct{}{}
	}

	out := completed[:0]
	for _, j := range completed {
		if _, ok := docSet[j.ID]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

// PendingArtifacts lists audio artifacts ready to transcribe: those of
// reverted jobs, whose completed run no longer has a document.
func (e *Engine) PendingArtifacts(ctx context.Context) ([]audio.Artifact, error) {
	completed, err := e.jobs.List(ctx, job.ListOptions{States: []job.State{job.StateCompleted}})
	if err != nil {
		return nil, err
	}
	withDocs, err := e.docs.ListJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	docSet := make(map[string]struct{}, len(withDocs))
	for _, id := range withDocs {
		docSet[id] = struct{}{}
	}

	var artifacts []audio.Artifact
	for _, j := range completed {
		if _, ok := docSet[j.ID]; !ok {
			artifacts = append(artifacts, j.Artifact)
		}
	}
	return artifacts, nil
}

// EditLog returns the append-only edit history of a job's document.
func (e *Engine) EditLog(ctx context.Context, id string) ([]docstore.EditLogEntry, error) {
	return e.docs.EditLog(ctx, id)
}

// EditSegment updates one segment of a completed job's document.
func (e *Engine) EditSegment(ctx context.Context, id string, index int, changes docstore.SegmentChanges, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.EditSegment(ctx, id, index, changes, opts)
	e.recordEdit(ctx, docstore.KindSegmentEdit, err)
	return res, err
}

// InsertSegment adds a manually-authored segment.
func (e *Engine) InsertSegment(ctx context.Context, id string, position int, seg docstore.NewSegment, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.InsertSegment(ctx, id, position, seg, opts)
	e.recordEdit(ctx, docstore.KindSegmentAdd, err)
	return res, err
}

// DeleteSegment removes a segment.
func (e *Engine) DeleteSegment(ctx context.Context, id string, index int, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.DeleteSegment(ctx, id, index, opts)
	e.recordEdit(ctx, docstore.KindSegmentDelete, err)
	return res, err
}

// AddSpeaker registers a new speaker.
func (e *Engine) AddSpeaker(ctx context.Context, id, name, role string, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.AddSpeaker(ctx, id, name, role, opts)
	e.recordEdit(ctx, docstore.KindSpeakerAdd, err)
	return res, err
}

// RenameSpeaker changes a speaker's display name everywhere.
func (e *Engine) RenameSpeaker(ctx context.Context, id, from, to string, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.RenameSpeaker(ctx, id, from, to, opts)
	e.recordEdit(ctx, docstore.KindSpeakerRename, err)
	return res, err
}

// DeleteSpeaker removes an unreferenced speaker from the mapping.
func (e *Engine) DeleteSpeaker(ctx context.Context, id, name string, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.DeleteSpeaker(ctx, id, name, opts)
	e.recordEdit(ctx, docstore.KindSpeakerDelete, err)
	return res, err
}

// ReplaceDocument swaps in a whole new document body.
func (e *Engine) ReplaceDocument(ctx context.Context, id string, doc document.Document, opts docstore.WriteOpts) (docstore.Result, error) {
	res, err := e.docs.Replace(ctx, id, doc, opts)
	e.recordEdit(ctx, docstore.KindDocumentReplace, err)
	return res, err
}

func (e *Engine) recordEdit(ctx context.Context, kind docstore.EntryKind, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordDocumentEdit(ctx, string(kind), status)
}
