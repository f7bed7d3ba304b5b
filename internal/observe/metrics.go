// Package observe provides application-wide observability primitives for
// Escriba: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Escriba metrics.
const meterName = "github.com/jorgevx/escriba"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline phase ---

	// PhaseDuration tracks how long each job phase takes. Use with attribute:
	//   attribute.String("phase", ...)
	PhaseDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// DiarizationDuration tracks speaker-diarization latency.
	DiarizationDuration metric.Float64Histogram

	// --- Counters ---

	// JobOutcomes counts finished jobs. Use with attribute:
	//   attribute.String("outcome", "completed"|"failed"|"cancelled")
	JobOutcomes metric.Int64Counter

	// JobRetries counts retry re-schedules after transient adapter failures.
	JobRetries metric.Int64Counter

	// DiarizationDegraded counts jobs that fell back to a single-speaker
	// result because the diarization model was unavailable.
	DiarizationDegraded metric.Int64Counter

	// DocumentEdits counts document write operations. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	DocumentEdits metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts adapter errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of jobs currently held by workers.
	ActiveJobs metric.Int64UpDownCounter

	// QueuedJobs tracks the number of submitted jobs waiting for a worker.
	QueuedJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// phaseBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription phases, which run from seconds to tens of minutes.
var phaseBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PhaseDuration, err = m.Float64Histogram("escriba.phase.duration",
		metric.WithDescription("Duration of each job phase."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phaseBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("escriba.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phaseBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizationDuration, err = m.Float64Histogram("escriba.diarization.duration",
		metric.WithDescription("Latency of speaker diarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phaseBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobOutcomes, err = m.Int64Counter("escriba.job.outcomes",
		metric.WithDescription("Total finished jobs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.JobRetries, err = m.Int64Counter("escriba.job.retries",
		metric.WithDescription("Total retry re-schedules after transient adapter failures."),
	); err != nil {
		return nil, err
	}
	if met.DiarizationDegraded, err = m.Int64Counter("escriba.diarization.degraded",
		metric.WithDescription("Total jobs completed with the single-speaker diarization fallback."),
	); err != nil {
		return nil, err
	}
	if met.DocumentEdits, err = m.Int64Counter("escriba.document.edits",
		metric.WithDescription("Total document write operations by kind and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("escriba.provider.errors",
		metric.WithDescription("Total adapter errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("escriba.active_jobs",
		metric.WithDescription("Number of jobs currently held by workers."),
	); err != nil {
		return nil, err
	}
	if met.QueuedJobs, err = m.Int64UpDownCounter("escriba.queued_jobs",
		metric.WithDescription("Number of submitted jobs waiting for a worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("escriba.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPhase records the duration of one job phase.
func (m *Metrics) RecordPhase(ctx context.Context, phase string, seconds float64) {
	m.PhaseDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

// RecordJobOutcome records a finished job.
func (m *Metrics) RecordJobOutcome(ctx context.Context, outcome string) {
	m.JobOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderError records an adapter error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDocumentEdit records one document write operation.
func (m *Metrics) RecordDocumentEdit(ctx context.Context, kind, status string) {
	m.DocumentEdits.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
