package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := New(Config{ServiceName: "wilson-test"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("New() returned nil tracer")
	}

	ctx := context.Background()
	_, span := tracer.StreamSpan(ctx, 3)
	defer span.End()

	if span == nil {
		t.Fatal("StreamSpan returned a nil span")
	}
}

func TestNilTracerSpansAreSafe(t *testing.T) {
	var tracer *Tracer

	ctx := context.Background()
	if _, span := tracer.StreamSpan(ctx, 0); span == nil {
		t.Fatal("StreamSpan on a nil tracer returned a nil span")
	}
	if _, span := tracer.DispatchSpan(ctx, 2); span == nil {
		t.Fatal("DispatchSpan on a nil tracer returned a nil span")
	}
	if _, span := tracer.CompactSpan(ctx, 10); span == nil {
		t.Fatal("CompactSpan on a nil tracer returned a nil span")
	}
}

func TestEndRecordsErrorWithoutPanicking(t *testing.T) {
	tracer, shutdown := New(Config{ServiceName: "wilson-test"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.DispatchSpan(context.Background(), 1)
	End(span, errors.New("dispatch failed"))

	_, span = tracer.DispatchSpan(context.Background(), 1)
	End(span, nil)
}
