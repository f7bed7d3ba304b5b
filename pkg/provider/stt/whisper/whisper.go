// Package whisper provides a local whisper.cpp-backed batch STT provider via
// the CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// Model weights are loaded lazily on the first Transcribe call and cached in
// the provider until [Provider.Release] or [Provider.Close] is called. The
// worker pool owns the provider and releases weights under memory pressure;
// a release that never happens is logged so operators can observe the leak.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/stt"
)

const defaultLanguage = "es"

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using whisper.cpp. It is safe for
// concurrent use: the shared model is loaded under a gate and each Transcribe
// call runs inference in its own whisper context.
type Provider struct {
	modelPath string
	language  string

	// loadGate serialises model load and release; inference itself runs
	// concurrently on per-call contexts.
	loadGate *semaphore.Weighted

	mu    sync.RWMutex
	model whisperlib.Model
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default transcription language used when the caller's
// options leave it empty. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider for the model file at modelPath. The weights are not
// loaded until the first Transcribe call. Callers must call Close when the
// provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &Provider{
		modelPath: modelPath,
		language:  defaultLanguage,
		loadGate:  semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider.Transcribe].
//
// The inference itself is a blocking CGO call and is not aborted when ctx
// expires; cancellation takes effect at the next checkpoint. This matches the
// engine's cooperative cancellation model, where an in-flight adapter call
// runs to completion and its result is discarded.
func (p *Provider) Transcribe(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindFileMissing, "transcribe", err)
	}

	samples, err := decodeWAV(data)
	if err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindUnsupportedFormat, "transcribe", err)
	}

	model, err := p.ensureModel(ctx)
	if err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindModelLoadFailed, "transcribe", err)
	}

	// Each whisper context is single-use and not thread-safe; the model is
	// shared.
	wctx, err := model.NewContext()
	if err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindRuntimeError, "transcribe", fmt.Errorf("create context: %w", err))
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}
	if opts.Temperature > 0 {
		wctx.SetTemperature(float32(opts.Temperature))
	}

	if err := ctx.Err(); err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindRuntimeError, "transcribe", err)
	}

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindRuntimeError, "transcribe", fmt.Errorf("process audio: %w", err))
	}

	var segments []stt.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, provider.NewModelError(provider.KindRuntimeError, "transcribe", fmt.Errorf("read segment: %w", err))
		}
		segments = append(segments, stt.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	detected := lang
	if lang == stt.LanguageAuto {
		detected = wctx.DetectedLanguage()
	}

	slog.Debug("whisper transcription done",
		"path", path,
		"segments", len(segments),
		"language", detected,
		"took", time.Since(start),
	)

	return stt.Result{
		Segments: segments,
		Language: detected,
		Model:    "whisper.cpp/" + opts.ModelSize,
	}, nil
}

// ensureModel returns the cached model, loading it first if needed.
func (p *Provider) ensureModel(ctx context.Context) (whisperlib.Model, error) {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	if err := p.loadGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.loadGate.Release(1)

	p.mu.RLock()
	m = p.model
	p.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	slog.Info("whisper: loading model weights", "path", p.modelPath)
	m, err := whisperlib.New(p.modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", p.modelPath, err)
	}

	p.mu.Lock()
	p.model = m
	p.mu.Unlock()
	return m, nil
}

// Release frees the cached model weights. The next Transcribe call reloads
// them. Safe to call when no weights are loaded.
func (p *Provider) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	slog.Info("whisper: releasing model weights", "path", p.modelPath)
	err := p.model.Close()
	p.model = nil
	if err != nil {
		return fmt.Errorf("whisper: release model: %w", err)
	}
	return nil
}

// Close releases the model. The provider must not be used afterwards.
func (p *Provider) Close() error {
	return p.Release()
}
