// Package provider defines the error taxonomy shared by all ML model
// adapters (speech-to-text and speaker diarization).
//
// Adapters never return bare errors for model-related failures; they wrap
// them in a [ModelError] carrying one of the four [ErrorKind] values. The job
// state machine uses the kind to decide between a retry and a fatal failure:
// [KindModelLoadFailed] and [KindRuntimeError] are transient and retriable,
// [KindFileMissing] and [KindUnsupportedFormat] are fatal on first occurrence.
package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	// KindFileMissing indicates the input audio file does not exist or is not
	// readable. Fatal to the job.
	KindFileMissing ErrorKind = "file_missing"

	// KindUnsupportedFormat indicates the input audio is in a format the
	// model cannot decode. Fatal to the job.
	KindUnsupportedFormat ErrorKind = "unsupported_format"

	// KindModelLoadFailed indicates the model weights could not be loaded.
	// Transient; retriable.
	KindModelLoadFailed ErrorKind = "model_load_failed"

	// KindRuntimeError covers transient inference failures, including
	// timeouts. Retriable.
	KindRuntimeError ErrorKind = "runtime_error"
)

// Retriable reports whether a failure of this kind may be retried.
func (k ErrorKind) Retriable() bool {
	return k == KindModelLoadFailed || k == KindRuntimeError
}

// ModelError is the typed failure returned by adapter calls.
type ModelError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the adapter operation that failed (e.g. "transcribe", "diarize").
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ModelError) Unwrap() error { return e.Err }

// NewModelError wraps err as a [ModelError] with the given kind and operation.
func NewModelError(kind ErrorKind, op string, err error) *ModelError {
	return &ModelError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the [ErrorKind] from err. If err does not wrap a
// [ModelError], it is treated as a runtime error.
func KindOf(err error) ErrorKind {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindRuntimeError
}
