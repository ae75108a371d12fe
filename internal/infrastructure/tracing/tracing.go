// Package tracing wires the phase-level spans the teacher's hand-rolled
// ExecutionTrace (internal/infrastructure/monitoring/trace.go: an
// in-memory []TraceEvent per execution, no export path) never actually
// exported anywhere, onto real go.opentelemetry.io/otel spans, filling
// the EngineConfig.EnableTracing flag engine.go carries as a no-op bool.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/smilemakc/codegen-orchestrator"

// NewProvider builds an SDK trace provider. Production wiring adds a
// real exporter (OTLP, stdout) via sdktrace.WithBatcher; tests can use
// the zero-value provider, which simply drops spans.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// StartJobSpan starts a root span for one Job, tagged with its id, the
// way the teacher's ExecutionTrace was keyed by ExecutionID.
func StartJobSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "job", trace.WithAttributes(attribute.String("job.id", jobID)))
}

// StartPhaseSpan starts a child span for one phase of the iteration
// loop, tagged with the model attempted, mirroring the teacher's
// TraceEvent{EventType, NodeID, NodeType} tagging of each step.
func StartPhaseSpan(ctx context.Context, phase, model string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, phase, trace.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("model", model),
	))
}
