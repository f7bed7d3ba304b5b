package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jorgevx/escriba/internal/audio"
	"github.com/jorgevx/escriba/internal/config"
	"github.com/jorgevx/escriba/internal/docstore"
	"github.com/jorgevx/escriba/internal/mapper"
	"github.com/jorgevx/escriba/internal/observe"
	"github.com/jorgevx/escriba/internal/reconcile"
	"github.com/jorgevx/escriba/pkg/document"
	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
	"github.com/jorgevx/escriba/pkg/provider/stt"
)

// errCancelled aborts the phase sequence when a cancel request is observed at
// a phase boundary.
var errCancelled = errors.New("job cancelled")

// ErrQueueFull is returned by Submit when the work queue cannot accept
// another job.
var ErrQueueFull = errors.New("job queue full")

// SubmitRequest carries everything needed to enqueue a new job.
type SubmitRequest struct {
	Artifact    audio.Artifact
	Roster      []document.RosterParticipant
	Profile     string
	Overrides   config.Overrides
	SubmittedBy string
}

// Manager owns the job store, the work queue, and the worker pool. One job is
// handled by one worker from start to finish; parallelism exists only across
// jobs.
type Manager struct {
	store   Store
	docs    *docstore.Store
	stt     stt.Provider
	diarize diarize.Provider

	cfgMu sync.RWMutex
	cfg   config.Config

	log     *slog.Logger
	metrics *observe.Metrics

	workers        int
	backoff        time.Duration
	adapterTimeout time.Duration
	now            func() time.Time

	queue chan string
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers sets the worker pool size. Default 2.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithBackoff sets the retry backoff. Values below [DefaultBackoff] are only
// honoured to keep tests fast; production configs should not lower it.
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.backoff = d
		}
	}
}

// WithAdapterTimeout caps each STT and diarization call. Default 30 minutes.
func WithAdapterTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.adapterTimeout = d
		}
	}
}

// WithLogger sets the structured logger. Default slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Default [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) {
		if met != nil {
			m.metrics = met
		}
	}
}

// NewManager creates a Manager. Call [Manager.Run] to start the worker pool.
func NewManager(store Store, docs *docstore.Store, sttProv stt.Provider, diarizeProv diarize.Provider, cfg config.Config, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		docs:           docs,
		stt:            sttProv,
		diarize:        diarizeProv,
		cfg:            cfg,
		log:            slog.Default(),
		metrics:        observe.DefaultMetrics(),
		workers:        2,
		backoff:        DefaultBackoff,
		adapterTimeout: 30 * time.Minute,
		now:            time.Now,
		queue:          make(chan string, 256),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the worker pool and blocks until ctx is cancelled. Jobs already
// claimed by a worker finish their current phase before the worker exits.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return m.workerLoop(ctx, name)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) workerLoop(ctx context.Context, name string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-m.queue:
			m.metrics.QueuedJobs.Add(ctx, -1)
			m.runJob(ctx, name, id)
		}
	}
}

// UpdateConfig swaps in a reloaded configuration. Running jobs keep the
// effective config they were resolved with; only new submissions see the
// updated profiles.
func (m *Manager) UpdateConfig(cfg config.Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

// Submit resolves the effective configuration, persists the job in PENDING,
// and enqueues it.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	m.cfgMu.RLock()
	profileName := req.Profile
	if profileName == "" {
		profileName = m.cfg.DefaultProfile
	}
	base, ok := m.cfg.Profiles[profileName]
	m.cfgMu.RUnlock()
	if !ok && profileName != "" {
		return Job{}, fmt.Errorf("job: unknown profile %q", profileName)
	}

	eff, err := config.Resolve(base, req.Overrides, req.Roster)
	if err != nil {
		return Job{}, fmt.Errorf("job: resolve config: %w", err)
	}

	j := Job{
		ID:          uuid.NewString(),
		Artifact:    req.Artifact,
		SubmittedBy: req.SubmittedBy,
		Config:      eff,
		Roster:      req.Roster,
		State:       StatePending,
		Progress:    ProgressSubmitted,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.Create(ctx, j); err != nil {
		return Job{}, fmt.Errorf("job: create %s: %w", j.ID, err)
	}

	select {
	case m.queue <- j.ID:
		m.metrics.QueuedJobs.Add(ctx, 1)
	default:
		return Job{}, fmt.Errorf("job: submit %s: %w", j.ID, ErrQueueFull)
	}

	m.log.Info("job submitted",
		"job_id", j.ID,
		"audio", req.Artifact.OriginalPath,
		"roster_size", len(req.Roster),
		"submitted_by", req.SubmittedBy)
	return j, nil
}

// Poll returns the status view of a job.
func (m *Manager) Poll(ctx context.Context, id string) (Status, error) {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		JobID:        j.ID,
		State:        j.State,
		Progress:     j.Progress,
		PhaseMessage: j.PhaseMessage,
		Error:        j.Error,
		TaskHandle:   j.TaskHandle,
		Retries:      j.Retries,
	}
	if j.State == StateCompleted {
		st.ResultRef = "documents/" + j.ID
	}
	return st, nil
}

// Get returns the raw job record.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	return m.store.Get(ctx, id)
}

// List returns job records, optionally filtered by state.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]Job, error) {
	return m.store.List(ctx, opts)
}

// Cancel requests cancellation. The job transitions to CANCELLED at its next
// phase boundary; an in-flight adapter call is not aborted and its output is
// discarded.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.State.Terminal() {
		return fmt.Errorf("job: cancel %s in state %s: %w", id, j.State, ErrIllegalState)
	}
	j.CancelRequested = true
	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("job: cancel %s: %w", id, err)
	}
	m.log.Info("job cancellation requested", "job_id", id, "state", string(j.State))
	return nil
}

// Restart re-queues a terminal job from scratch: the prior document and its
// edit log are deleted, the retry counter resets, and the job runs again as
// if freshly submitted. It is not a retry.
func (m *Manager) Restart(ctx context.Context, id string) error {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !j.State.Terminal() {
		return fmt.Errorf("job: restart %s in state %s: %w", id, j.State, ErrIllegalState)
	}
	if j.State == StateFailed && !j.RetryAt.IsZero() {
		return fmt.Errorf("job: restart %s: retry pending until %s: %w",
			id, j.RetryAt.Format(time.RFC3339), ErrIllegalState)
	}

	if err := m.docs.Delete(ctx, id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("job: restart %s: delete document: %w", id, err)
	}

	j.State = StatePending
	j.Progress = ProgressSubmitted
	j.PhaseMessage = ""
	j.TaskHandle = ""
	j.StartedAt = time.Time{}
	j.FinishedAt = time.Time{}
	j.Error = ""
	j.Retries = 0
	j.CancelRequested = false
	if err := m.store.Update(ctx, j); err != nil {
		return fmt.Errorf("job: restart %s: %w", id, err)
	}

	select {
	case m.queue <- id:
		m.metrics.QueuedJobs.Add(ctx, 1)
	default:
		return fmt.Errorf("job: restart %s: %w", id, ErrQueueFull)
	}
	m.log.Info("job restarted", "job_id", id)
	return nil
}

// runJob drives one job through all phases. Any error parks the job in a
// terminal state or schedules a retry; runJob itself never fails.
func (m *Manager) runJob(ctx context.Context, worker, id string) {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		m.log.Error("claimed job cannot be loaded", "job_id", id, "error", err)
		return
	}

	m.metrics.ActiveJobs.Add(ctx, 1)
	defer m.metrics.ActiveJobs.Add(ctx, -1)

	j.TaskHandle = worker
	if j.StartedAt.IsZero() {
		j.StartedAt = m.now().UTC()
	}
	if err := m.advance(ctx, &j, StateRunning, ProgressSubmitted, "En cola de procesamiento"); err != nil {
		m.finishAborted(ctx, &j, err)
		return
	}

	log := m.log.With("job_id", j.ID, "worker", worker)

	// Phase 1: transcription.
	if err := m.advance(ctx, &j, StateTranscribing, ProgressTranscribing, "Transcribiendo audio"); err != nil {
		m.finishAborted(ctx, &j, err)
		return
	}
	sttRes, err := m.transcribe(ctx, &j)
	if err != nil {
		m.fail(ctx, &j, "stt", err)
		return
	}
	log.Info("transcription finished",
		"segments", len(sttRes.Segments),
		"language", sttRes.Language)
	if err := m.advance(ctx, &j, StateTranscribing, ProgressTranscribed, "Transcripción completada"); err != nil {
		m.finishAborted(ctx, &j, err)
		return
	}

	// Phase 2: diarization.
	if err := m.advance(ctx, &j, StateDiarizing, ProgressDiarizing, "Identificando hablantes"); err != nil {
		m.finishAborted(ctx, &j, err)
		return
	}
	diarRes, err := m.runDiarize(ctx, &j)
	if err != nil {
		m.fail(ctx, &j, "diarization", err)
		return
	}
	if diarRes.Degraded {
		m.metrics.DiarizationDegraded.Add(ctx, 1)
		log.Warn("diarization degraded to single speaker")
	}
	if err := m.advance(ctx, &j, StateDiarizing, ProgressDiarized, "Hablantes identificados"); err != nil {
		m.finishAborted(ctx, &j, err)
		return
	}

	// Phase 3: reconciliation.
	if err := m.advance(ctx, &j, StateReconciling, ProgressReconciling, "Generando documento estructurado"); err != nil {
		m.finishAborted(ctx, &j, err)
		return
	}
	if err := m.reconcileAndStore(ctx, &j, sttRes, diarRes); err != nil {
		m.fail(ctx, &j, "store", err)
		return
	}

	j.State = StateCompleted
	j.Progress = ProgressCompleted
	j.PhaseMessage = "Completado"
	j.FinishedAt = m.now().UTC()
	if err := m.store.Update(ctx, j); err != nil {
		log.Error("completed job could not be persisted", "error", err)
		return
	}
	m.metrics.RecordJobOutcome(ctx, "completed")
	log.Info("job completed",
		"duration", m.now().UTC().Sub(j.StartedAt).String(),
		"retries", j.Retries)
}

// advance is the short critical section run at every phase boundary: re-read
// the record for a pending cancel request, bump state and progress, persist.
// No adapter calls happen inside it.
func (m *Manager) advance(ctx context.Context, j *Job, state State, progress int, msg string) error {
	cur, err := m.store.Get(ctx, j.ID)
	if err != nil {
		return err
	}
	j.CancelRequested = cur.CancelRequested
	if j.CancelRequested {
		return errCancelled
	}

	j.State = state
	if progress > j.Progress {
		j.Progress = progress
	}
	j.PhaseMessage = msg
	return m.store.Update(ctx, *j)
}

// transcribe resolves the input artifact and runs the STT adapter under the
// phase timeout.
func (m *Manager) transcribe(ctx context.Context, j *Job) (stt.Result, error) {
	ctx, span := observe.StartPhaseSpan(ctx, "transcribe", j.ID)
	defer span.End()

	resolved, err := audio.Resolve(j.Artifact)
	if err != nil {
		return stt.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.adapterTimeout)
	defer cancel()

	start := m.now()
	res, err := m.stt.Transcribe(ctx, resolved.Path, j.Config.STTOptions())
	m.metrics.STTDuration.Record(ctx, m.now().Sub(start).Seconds())
	m.metrics.RecordPhase(ctx, "transcribe", m.now().Sub(start).Seconds())
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// runDiarize resolves the input artifact again (an enhanced rendition may
// have appeared since the last phase) and runs the diarization adapter.
func (m *Manager) runDiarize(ctx context.Context, j *Job) (diarize.Result, error) {
	ctx, span := observe.StartPhaseSpan(ctx, "diarize", j.ID)
	defer span.End()

	resolved, err := audio.Resolve(j.Artifact)
	if err != nil {
		return diarize.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.adapterTimeout)
	defer cancel()

	start := m.now()
	res, err := m.diarize.Diarize(ctx, resolved.Path, j.Config.DiarizeOptions())
	m.metrics.DiarizationDuration.Record(ctx, m.now().Sub(start).Seconds())
	m.metrics.RecordPhase(ctx, "diarize", m.now().Sub(start).Seconds())
	if err != nil {
		return diarize.Result{}, err
	}
	return res, nil
}

// reconcileAndStore maps speakers, builds the canonical document, and stores
// it. Reconciliation itself never fails; a panic inside it yields a minimal
// document with metadata.error set and the job still completes.
func (m *Manager) reconcileAndStore(ctx context.Context, j *Job, sttRes stt.Result, diarRes diarize.Result) error {
	ctx, span := observe.StartPhaseSpan(ctx, "reconcile", j.ID)
	defer span.End()

	resolved, err := audio.Resolve(j.Artifact)
	if err != nil {
		return err
	}

	durationSeconds := j.Artifact.DurationSeconds
	if d, derr := audio.Duration(resolved.Path); derr == nil {
		durationSeconds = d
	}

	mapping := mapper.Map(diarRes, j.Roster)
	doc := reconcile.Build(reconcile.Inputs{
		STT:         sttRes,
		Diarization: diarRes,
		Mapping:     mapping,
		Roster:      j.Roster,
		Audio: document.AudioInfo{
			Path:            resolved.Path,
			DurationSeconds: document.Round2(durationSeconds),
			Enhanced:        resolved.Enhanced,
		},
		Job: document.TranscriptionInfo{
			JobID:            j.ID,
			ModelSize:        string(j.Config.ModelSize),
			Language:         string(j.Config.Language),
			DetectedLanguage: sttRes.Language,
			SubmittedBy:      j.SubmittedBy,
			ProcessedAt:      m.now().UTC(),
		},
	}, m.now().UTC())

	if _, err := m.docs.Create(ctx, j.ID, doc); err != nil {
		return err
	}
	return nil
}

// fail handles an adapter error: schedule a retry for transient kinds while
// the counter allows, otherwise park the job in FAILED.
func (m *Manager) fail(ctx context.Context, j *Job, phase string, err error) {
	if errors.Is(err, errCancelled) {
		m.finishAborted(ctx, j, err)
		return
	}

	kind := provider.KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = provider.KindRuntimeError
	}
	m.metrics.RecordProviderError(ctx, phase, string(kind))

	j.State = StateFailed
	j.Error = err.Error()
	if kind.Retriable() && j.Retries < MaxRetries {
		// RetryAt is persisted before the timer is armed so Restart can
		// never observe a retry-pending job as plain FAILED.
		j.RetryAt = m.now().UTC().Add(m.backoff)
		if uerr := m.store.Update(ctx, *j); uerr != nil {
			m.log.Error("failed job could not be persisted", "job_id", j.ID, "error", uerr)
			return
		}
		m.log.Warn("transient failure, scheduling retry",
			"job_id", j.ID,
			"phase", phase,
			"kind", string(kind),
			"retry", j.Retries+1,
			"backoff", m.backoff.String(),
			"error", err)
		m.metrics.JobRetries.Add(ctx, 1)
		time.AfterFunc(m.backoff, func() {
			m.requeue(j.ID)
		})
		return
	}

	j.FinishedAt = m.now().UTC()
	if uerr := m.store.Update(ctx, *j); uerr != nil {
		m.log.Error("failed job could not be persisted", "job_id", j.ID, "error", uerr)
		return
	}
	m.metrics.RecordJobOutcome(ctx, "failed")
	m.log.Error("job failed",
		"job_id", j.ID,
		"phase", phase,
		"kind", string(kind),
		"retries", j.Retries,
		"error", err)
}

// requeue re-enters a job after its retry backoff. A cancel request that
// arrived during the backoff wins.
func (m *Manager) requeue(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	j, err := m.store.Get(ctx, id)
	if err != nil {
		m.log.Error("retried job cannot be loaded", "job_id", id, "error", err)
		return
	}
	if j.CancelRequested {
		j.RetryAt = time.Time{}
		m.finishAborted(ctx, &j, errCancelled)
		return
	}
	if j.RetryAt.IsZero() || j.State != StateFailed {
		// Someone else (a restart, an operator) already took the job over.
		m.log.Warn("retry superseded", "job_id", id, "state", string(j.State))
		return
	}

	j.RetryAt = time.Time{}
	j.Retries++
	j.State = StateRunning
	j.PhaseMessage = fmt.Sprintf("Reintento %d de %d", j.Retries, MaxRetries)
	if err := m.store.Update(ctx, j); err != nil {
		m.log.Error("retried job could not be persisted", "job_id", id, "error", err)
		return
	}

	select {
	case m.queue <- id:
		m.metrics.QueuedJobs.Add(ctx, 1)
	default:
		m.log.Error("retry dropped, queue full", "job_id", id)
	}
}

// finishAborted parks a job in CANCELLED after a cancel request was observed
// at a phase boundary.
func (m *Manager) finishAborted(ctx context.Context, j *Job, cause error) {
	if !errors.Is(cause, errCancelled) {
		m.log.Error("phase boundary failed", "job_id", j.ID, "error", cause)
		return
	}
	j.State = StateCancelled
	j.PhaseMessage = "Cancelado"
	j.FinishedAt = m.now().UTC()
	if err := m.store.Update(ctx, *j); err != nil {
		m.log.Error("cancelled job could not be persisted", "job_id", j.ID, "error", err)
		return
	}
	m.metrics.RecordJobOutcome(ctx, "cancelled")
	m.log.Info("job cancelled", "job_id", j.ID)
}
