package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerNoEndpointIsNoop(t *testing.T) {
	tracer, err := NewTracer(TraceConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	if tracer.provider != nil {
		t.Fatal("expected no provider without an endpoint")
	}

	ctx, span := tracer.TraceToolExecution(context.Background(), "read_file")
	if ctx == nil {
		t.Fatal("nil context")
	}
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on noop tracer: %v", err)
	}
}

func TestNilTracerIsSafe(t *testing.T) {
	var tracer *Tracer

	_, span := tracer.TraceToolExecution(context.Background(), "read_file")
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil tracer: %v", err)
	}
}

func TestWithSpanPropagatesError(t *testing.T) {
	tracer, err := NewTracer(TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	sentinel := errors.New("boom")
	got := tracer.WithSpan(context.Background(), "op", func(context.Context) error {
		return sentinel
	})
	if !errors.Is(got, sentinel) {
		t.Fatalf("got %v", got)
	}

	if err := tracer.WithSpan(context.Background(), "ok", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("got %v", err)
	}
}
