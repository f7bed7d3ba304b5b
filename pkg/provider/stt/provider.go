// Package stt defines the Provider interface for batch Speech-to-Text
// backends.
//
// An STT provider wraps a transcription model (a local whisper.cpp build or
// the OpenAI audio API) and exposes a uniform file-in, segments-out contract.
// Providers must be idempotent for identical (audio bytes, options) inputs and
// must classify failures using the provider package's error kinds so the job
// state machine can distinguish retriable from fatal errors.
//
// Implementations must be safe for concurrent use; the worker pool may run
// several jobs against one provider instance at a time.
package stt

import (
	"context"
)

// LanguageAuto requests language autodetection. Providers that support it
// report the detected language in [Result.Language].
const LanguageAuto = "auto"

// Options is the transcription configuration subset handed to a provider.
type Options struct {
	// ModelSize selects the model variant (e.g. "base", "medium", "large-v3").
	// Providers with a single fixed model ignore it.
	ModelSize string

	// Language is an ISO 639-1 code or [LanguageAuto].
	Language string

	// Temperature is the decoding temperature in [0.0, 1.0].
	Temperature float64

	// VADEnabled requests voice-activity-based segmentation where supported.
	VADEnabled bool
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe reads the audio file at path and returns its timestamped
	// segments, sorted by start time. Segment text is trimmed; empty segments
	// may be present and are filtered by the reconciliation builder.
	//
	// Failures are reported as provider.ModelError values: a missing or
	// unreadable file is KindFileMissing, an undecodable file is
	// KindUnsupportedFormat, weight-loading problems are KindModelLoadFailed,
	// and everything else (including ctx expiry) is KindRuntimeError.
	Transcribe(ctx context.Context, path string, opts Options) (Result, error)
}
