package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer scoped to the mediation pipeline:
// one span per mediated tool call, with child spans for escalation waits
// and downstream RPCs. With no collector endpoint configured it degrades
// to no-op spans, so instrumentation call sites never branch.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures tracing.
type TraceConfig struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string

	// Endpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export; spans become no-ops.
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool
}

// NewTracer builds a Tracer. With an endpoint configured it installs an
// OTLP gRPC exporter and registers the provider globally; otherwise the
// returned Tracer produces no-op spans and Shutdown is a no-op.
func NewTracer(cfg TraceConfig) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ironcurtain"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("observability: creating OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

// Shutdown flushes pending spans. Safe on a no-op Tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceToolExecution starts the root span for one mediated tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.start(ctx, "mediator.tools/call", attribute.String("tool.name", toolName))
}

// TraceEscalation starts a child span covering the time a call spends
// blocked on a human decision.
func (t *Tracer) TraceEscalation(ctx context.Context, escalationID string) (context.Context, trace.Span) {
	return t.start(ctx, "escalation.wait", attribute.String("escalation.id", escalationID))
}

// TraceDownstreamCall starts a child span for one downstream RPC.
func (t *Tracer) TraceDownstreamCall(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	return t.start(ctx, "downstream.tools/call",
		attribute.String("downstream.server", server),
		attribute.String("tool.name", tool),
	)
}

// WithSpan runs fn inside a span, recording any returned error on it.
func (t *Tracer) WithSpan(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := t.start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
