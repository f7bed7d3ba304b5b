package resilience

import (
	"context"
	"log/slog"

	"github.com/jorgevx/escriba/internal/audio"
	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
)

// DiarizeDegrade wraps a diarization provider so that an unavailable model
// yields a well-formed single-speaker result instead of failing the job. The
// degraded result carries the Degraded flag, which the reconciler surfaces in
// the document metadata.
//
// Only a failed model load degrades; transient runtime errors propagate so
// the job state machine can retry them, and fatal input errors propagate
// unchanged.
type DiarizeDegrade struct {
	inner diarize.Provider
	log   *slog.Logger
}

// Compile-time interface assertion.
var _ diarize.Provider = (*DiarizeDegrade)(nil)

// NewDiarizeDegrade wraps inner with the single-speaker degradation.
func NewDiarizeDegrade(inner diarize.Provider, log *slog.Logger) *DiarizeDegrade {
	if log == nil {
		log = slog.Default()
	}
	return &DiarizeDegrade{inner: inner, log: log}
}

// Diarize delegates to the wrapped provider, substituting a single-speaker
// result when the model is unavailable.
func (d *DiarizeDegrade) Diarize(ctx context.Context, path string, opts diarize.Options) (diarize.Result, error) {
	res, err := d.inner.Diarize(ctx, path, opts)
	if err == nil {
		return res, nil
	}
	if provider.KindOf(err) != provider.KindModelLoadFailed {
		return diarize.Result{}, err
	}

	duration, derr := audio.Duration(path)
	if derr != nil {
		duration = 0
	}
	d.log.Warn("diarization model unavailable, continuing with single speaker",
		"audio", path,
		"duration_seconds", duration,
		"error", err)
	return diarize.SingleSpeaker(duration), nil
}
