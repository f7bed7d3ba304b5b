package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Escriba tracer.
const tracerName = "github.com/jorgevx/escriba"

// Tracer returns the package-level [trace.Tracer] for Escriba. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartPhaseSpan starts a span for one phase of a transcription job
// (transcribe, diarize, reconcile). The span carries the job ID and phase
// name so a trace shows where a half-hour batch spent its time.
func StartPhaseSpan(ctx context.Context, phase, jobID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "job."+phase,
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.phase", phase),
		),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx. The
// trace ID doubles as the correlation identifier stamped on responses and
// log lines. Returns the empty string when no active span with a valid
// trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
