// Package telemetry wires the agent loop, tool dispatcher, and compactor
// into OpenTelemetry spans. A nil *Tracer (or one built with an empty
// Endpoint) is always safe to call: every method degrades to a no-op
// span rather than requiring callers to branch on whether tracing is on.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the turn tracer.
type Config struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string

	// Endpoint is the OTLP/gRPC collector address (e.g. "localhost:4317").
	// Empty disables export; Start still returns usable no-op spans.
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool
}

// Tracer starts spans for the three things worth tracing inside one turn
// of the agent loop: the model stream, a batch of tool dispatches, and a
// compaction pass.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer. If config.Endpoint is empty or the exporter can't
// be built, the returned Tracer still works but spans aren't exported
// anywhere; Shutdown is a no-op in that case.
func New(config Config) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "wilson"
	}

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName)},
		func(ctx context.Context) error { return provider.Shutdown(ctx) }
}

// StreamSpan traces one call to the backend's Stream method.
func (t *Tracer) StreamSpan(ctx context.Context, depth int) (context.Context, trace.Span) {
	return t.start(ctx, "agentloop.stream", trace.SpanKindClient,
		attribute.Int("agentloop.depth", depth),
	)
}

// DispatchSpan traces one batch of tool calls, which the dispatcher runs
// one at a time.
func (t *Tracer) DispatchSpan(ctx context.Context, toolCount int) (context.Context, trace.Span) {
	return t.start(ctx, "agentloop.dispatch", trace.SpanKindInternal,
		attribute.Int("tools.call_count", toolCount),
	)
}

// CompactSpan traces one compaction pass over the turn's history.
func (t *Tracer) CompactSpan(ctx context.Context, messageCount int) (context.Context, trace.Span) {
	return t.start(ctx, "agentloop.compact", trace.SpanKindInternal,
		attribute.Int("compaction.input_messages", messageCount),
	)
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// End closes span, recording err on it first if non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
