// Command escriba is the transcription engine server: it runs the job worker
// pool and serves health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jorgevx/escriba/internal/config"
	"github.com/jorgevx/escriba/internal/docstore"
	"github.com/jorgevx/escriba/internal/engine"
	"github.com/jorgevx/escriba/internal/health"
	"github.com/jorgevx/escriba/internal/job"
	"github.com/jorgevx/escriba/internal/observe"
	"github.com/jorgevx/escriba/internal/resilience"
	"github.com/jorgevx/escriba/internal/store/postgres"
	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
	"github.com/jorgevx/escriba/pkg/provider/diarize/pyannote"
	"github.com/jorgevx/escriba/pkg/provider/stt"
	sttopenai "github.com/jorgevx/escriba/pkg/provider/stt/openai"
	"github.com/jorgevx/escriba/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "escriba: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "escriba: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("escriba starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "escriba",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Persistence ───────────────────────────────────────────────────────────
	var (
		jobStore job.Store
		backend  docstore.Backend
		checkers []health.Checker
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		jobStore = pg.Jobs()
		backend = pg.Documents()
		checkers = append(checkers, health.Checker{Name: "database", Check: pg.Ping})
		slog.Info("postgres store ready")
	} else {
		slog.Warn("no store.postgres_dsn configured — documents and jobs are held in memory and lost on restart")
		jobStore = job.NewMemStore()
		backend = docstore.NewMemBackend()
	}
	docs := docstore.New(backend)

	// ── Providers ─────────────────────────────────────────────────────────────
	sttProv, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	diarizeProv, err := buildDiarize(cfg.Providers.Diarization, logger)
	if err != nil {
		slog.Error("failed to build diarization provider", "err", err)
		return 1
	}

	// ── Job manager and engine ────────────────────────────────────────────────
	mgrOpts := []job.Option{
		job.WithLogger(logger),
		job.WithMetrics(metrics),
	}
	if cfg.Jobs.Workers > 0 {
		mgrOpts = append(mgrOpts, job.WithWorkers(cfg.Jobs.Workers))
	}
	if cfg.Jobs.AdapterTimeoutMinutes > 0 {
		mgrOpts = append(mgrOpts, job.WithAdapterTimeout(time.Duration(cfg.Jobs.AdapterTimeoutMinutes)*time.Minute))
	}
	mgr := job.NewManager(jobStore, docs, sttProv, diarizeProv, *cfg, mgrOpts...)

	eng := engine.New(mgr, docs, engine.WithLogger(logger), engine.WithMetrics(metrics))
	checkers = append(checkers, health.Checker{
		Name: "documents",
		Check: func(ctx context.Context) error {
			_, err := eng.CompletedJobs(ctx)
			return err
		},
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, updated *config.Config) {
		mgr.UpdateConfig(*updated)
		slog.Info("configuration reloaded", "profiles", len(updated.Profiles))
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP endpoints ────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("http endpoints listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildSTT constructs the configured speech-to-text backend wrapped in a
// failover group. When a fallback is named, it is registered behind the
// primary's circuit breaker chain.
func buildSTT(cfg config.STTProviderConfig) (stt.Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("providers.stt.name is required")
	}

	primary, err := newSTTProvider(cfg.Name, cfg)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Name)

	group := resilience.NewSTTFallback(primary, cfg.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stt-" + cfg.Name},
	})

	if cfg.Fallback != "" && cfg.Fallback != cfg.Name {
		fb, err := newSTTProvider(cfg.Fallback, cfg)
		if err != nil {
			slog.Warn("stt fallback unavailable", "name", cfg.Fallback, "err", err)
		} else {
			group.AddFallback(cfg.Fallback, fb)
			slog.Info("provider created", "kind", "stt", "name", cfg.Fallback, "role", "fallback")
		}
	}
	return group, nil
}

func newSTTProvider(name string, cfg config.STTProviderConfig) (stt.Provider, error) {
	switch name {
	case "whisper":
		return whisper.New(cfg.ModelPath)
	case "openai":
		var opts []sttopenai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(cfg.BaseURL))
		}
		return sttopenai.New(cfg.APIKey, "", opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", name)
	}
}

// buildDiarize constructs the pyannote sidecar client wrapped in the
// single-speaker degradation layer. Without a configured sidecar every job
// degrades to a single-speaker document instead of failing.
func buildDiarize(cfg config.DiarizeProviderConfig, logger *slog.Logger) (diarize.Provider, error) {
	var inner diarize.Provider
	if cfg.ServerURL == "" {
		slog.Warn("no providers.diarization.server_url configured — all jobs will produce single-speaker documents")
		inner = unavailableDiarizer{}
	} else {
		p, err := pyannote.New(cfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("create diarization provider: %w", err)
		}
		slog.Info("provider created", "kind", "diarization", "server_url", cfg.ServerURL)
		inner = p
	}
	return resilience.NewDiarizeDegrade(inner, logger), nil
}

// unavailableDiarizer stands in when no sidecar is configured. Its errors
// carry the model-load kind so the degradation layer substitutes the
// single-speaker result.
type unavailableDiarizer struct{}

func (unavailableDiarizer) Diarize(context.Context, string, diarize.Options) (diarize.Result, error) {
	return diarize.Result{}, provider.NewModelError(provider.KindModelLoadFailed, "diarize",
		errors.New("no diarization sidecar configured"))
}
