// Package job drives submitted transcription jobs through their lifecycle: a
// pool of workers pulls jobs from a shared queue and runs the transcribe,
// diarize, and reconcile phases, persisting state before every adapter call
// so a crash leaves each job parked at a well-defined phase boundary.
package job

import (
	"errors"
	"time"

	"github.com/jorgevx/escriba/internal/audio"
	"github.com/jorgevx/escriba/internal/config"
	"github.com/jorgevx/escriba/pkg/document"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending      State = "PENDING"
	StateRunning      State = "RUNNING"
	StateTranscribing State = "TRANSCRIBING"
	StateDiarizing    State = "DIARIZING"
	StateReconciling  State = "RECONCILING"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateCancelled    State = "CANCELLED"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress checkpoints published at each transition. Progress is monotonic
// per job; a retry replays phases without ever lowering the percentage.
const (
	ProgressSubmitted    = 10
	ProgressTranscribing = 20
	ProgressTranscribed  = 50
	ProgressDiarizing    = 60
	ProgressDiarized     = 80
	ProgressReconciling  = 90
	ProgressCompleted    = 100
)

// MaxRetries is how many times a job is re-scheduled after a transient
// adapter failure before it fails for good.
const MaxRetries = 2

// DefaultBackoff is the minimum delay before a retried job re-enters the
// queue.
const DefaultBackoff = 60 * time.Second

// API-level errors.
var (
	// ErrNotFound indicates an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrIllegalState indicates an operation not valid in the job's current
	// state, e.g. fetching the document of a job that has not completed.
	ErrIllegalState = errors.New("operation not allowed in current job state")
)

// Job is the unit of work. It is created by Submit and mutated exclusively by
// the manager's workers.
type Job struct {
	ID          string          `json:"id"`
	Artifact    audio.Artifact  `json:"artifact"`
	SubmittedBy string          `json:"submitted_by,omitempty"`

	// Config is the effective configuration resolved at submit time.
	Config config.Effective `json:"config"`

	Roster []document.RosterParticipant `json:"roster,omitempty"`

	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	PhaseMessage string `json:"phase_message,omitempty"`

	// TaskHandle names the worker currently holding the job.
	TaskHandle string `json:"task_handle,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Error   string `json:"error,omitempty"`
	Retries int    `json:"retries"`

	// RetryAt is set while the job sits in FAILED waiting for its retry
	// backoff to elapse. A job with RetryAt set is not genuinely terminal:
	// the retry timer still owns it and Restart must refuse it.
	RetryAt time.Time `json:"retry_at,omitzero"`

	// CancelRequested is set by Cancel and honoured at the next phase
	// boundary.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// Status is the poll view of a job.
type Status struct {
	JobID        string `json:"job_id"`
	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	PhaseMessage string `json:"phase_message,omitempty"`
	Error        string `json:"error,omitempty"`
	TaskHandle   string `json:"task_handle,omitempty"`
	Retries      int    `json:"retries"`

	// ResultRef references the canonical document, set once the job has
	// completed.
	ResultRef string `json:"result_ref,omitempty"`
}
