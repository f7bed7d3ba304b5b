package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/stt"
)

// ErrAllFailed is returned when every backend in an [STTFallback] fails or
// sits behind an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-backend circuit breaker created for each
// provider registered in an [STTFallback].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// sttBackend pairs a transcription provider with its dedicated breaker.
type sttBackend struct {
	name     string
	provider stt.Provider
	breaker  *CircuitBreaker
}

// STTFallback implements [stt.Provider] with failover across transcription
// backends, each behind its own circuit breaker. The usual pairing is a local
// whisper model as primary with a hosted API as fallback, so a failed model
// load or an input format the local decoder rejects still produces a
// transcription.
//
// Backends are registered at startup; Transcribe is safe for concurrent use
// once registration is done.
type STTFallback struct {
	backends []sttBackend
	cfg      FallbackConfig
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	f := &STTFallback{cfg: cfg}
	f.add(primaryName, primary)
	return f
}

// AddFallback registers an additional backend, tried after the ones already
// registered.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.add(name, p)
}

func (f *STTFallback) add(name string, p stt.Provider) {
	cbCfg := f.cfg.CircuitBreaker
	cbCfg.Name = name
	f.backends = append(f.backends, sttBackend{
		name:     name,
		provider: p,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Transcribe runs the transcription against the first healthy backend.
// Backends with an open breaker are skipped; a missing input file fails
// immediately, since no backend can transcribe a file that is not there.
// When every backend fails, the last error is wrapped under [ErrAllFailed]
// with its failure kind intact so the retry policy still sees it.
func (f *STTFallback) Transcribe(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		var res stt.Result
		err := b.breaker.Execute(func() error {
			var inner error
			res, inner = b.provider.Transcribe(ctx, path, opts)
			return inner
		})
		if err == nil {
			if i > 0 {
				slog.Info("transcription served by fallback backend", "backend", b.name)
			}
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("stt backend skipped, circuit open", "backend", b.name)
			continue
		}
		if provider.KindOf(err) == provider.KindFileMissing {
			return stt.Result{}, err
		}
		slog.Warn("stt backend failed, trying next", "backend", b.name, "error", err)
	}
	return stt.Result{}, fmt.Errorf("stt fallback: %w: %w", ErrAllFailed, lastErr)
}
