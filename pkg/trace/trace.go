// Package trace sets up OpenTelemetry tracing for the bridge. Call setup is
// where latency hides (provisioning HTTP, ICE gathering, the accept
// handshake), so the session wraps each phase in a span.
package trace

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used throughout the application.
const TracerName = "github.com/realtime-ai/voice-bridge"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	mu             sync.RWMutex
)

// Init configures the global tracer provider. Exporter type comes from the
// TRACE_EXPORTER env var: "stdout" or "none" (default).
func Init(serviceName string) error {
	mu.Lock()
	defer mu.Unlock()

	exporterType := os.Getenv("TRACE_EXPORTER")
	if exporterType == "" || exporterType == "none" {
		tracer = otel.Tracer(TracerName)
		return nil
	}
	if exporterType != "stdout" {
		return fmt.Errorf("unsupported trace exporter %q", exporterType)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(TracerName)
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if tracerProvider == nil {
		return nil
	}
	return tracerProvider.Shutdown(ctx)
}

// StartSpan starts a span from the configured tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	mu.RLock()
	t := tracer
	mu.RUnlock()
	if t == nil {
		t = otel.Tracer(TracerName)
	}
	return t.Start(ctx, name, opts...)
}

// WithSpan executes fn within a new span, recording any returned error.
func WithSpan(ctx context.Context, name string, fn func(context.Context) error, opts ...trace.SpanStartOption) error {
	ctx, span := StartSpan(ctx, name, opts...)
	defer span.End()

	if err := fn(ctx); err != nil {
		RecordError(span, err)
		return err
	}
	return nil
}

// RecordError records an error on a span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CallID is the span attribute carrying the external call identifier.
func CallID(id string) attribute.KeyValue {
	return attribute.String("call.id", id)
}
