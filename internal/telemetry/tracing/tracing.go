// Package tracing provides the OpenTelemetry tracer used to wrap broadcast
// phases and fluidic routine steps, plus the trace/span ID extraction that
// internal/telemetry/logging uses to correlate log lines to spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "evolverd"

// Tracer is the thin surface the rest of the module depends on.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

type otelTracer struct{ tracer trace.Tracer }

// New builds a Tracer backed by an in-process OTel SDK provider. Exporters
// can be attached to the returned provider by callers that want spans to
// leave the process; by default spans are recorded but not exported, which
// keeps the coordination layer dependency-free of any particular backend.
func New(serviceName string) (Tracer, *sdktrace.TracerProvider) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return &otelTracer{tracer: tp.Tracer(instrumentationName)}, tp
}

// NewNoop returns a Tracer that records spans nowhere, for tests.
func NewNoop() Tracer {
	return &otelTracer{tracer: trace.NewNoopTracerProvider().Tracer(instrumentationName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// ExtractIDs pulls the trace/span ID out of ctx for log correlation. Returns
// empty strings when ctx carries no valid span context.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
