package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures the OTLP-over-HTTP trace exporter.
type TracingConfig struct {
	ServiceName string
	Endpoint    string // host:port, no scheme
	Insecure    bool
	SampleRatio float64
}

// DefaultTracingConfig samples every trace against a local collector,
// suitable for development.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{ServiceName: "roundtable", Endpoint: "localhost:4318", Insecure: true, SampleRatio: 1.0}
}

// NewTracerProvider builds an sdktrace.TracerProvider exporting spans
// over OTLP/HTTP and installs it as the global provider. Callers must
// call Shutdown on the returned provider during graceful shutdown to
// flush any buffered spans.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: build otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer is the tracer every Edge Session span is created from.
var Tracer = otel.Tracer("github.com/streamcore/roundtable")

// StartEdgeSession opens one span covering an Edge Session's full
// lifetime, from connect to seal, tagged with the correlation IDs the
// session was opened with.
func StartEdgeSession(ctx context.Context, threadID, panelistID string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "edge.session",
		trace.WithAttributes(
			attribute.String("thread_id", threadID),
			attribute.String("panelist_id", panelistID),
		),
	)
}

// StartProviderStream opens a span covering one provider adapter's
// Stream call, from request to the terminal chunk or error.
func StartProviderStream(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "provider.stream",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
		),
	)
}

// StartToolExecution opens a span covering one tool call.
func StartToolExecution(ctx context.Context, toolName string, timeout time.Duration) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool", toolName),
			attribute.Int64("timeout_ms", timeout.Milliseconds()),
		),
	)
}
