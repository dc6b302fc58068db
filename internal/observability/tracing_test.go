package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEdgeSession_RecordsCorrelationAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTracer := Tracer
	Tracer = tp.Tracer("test")
	defer func() { Tracer = prevTracer }()

	_, span := StartEdgeSession(context.Background(), "thread-1", "panelist-a")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "edge.session", spans[0].Name)

	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsString()
	}
	require.Equal(t, "thread-1", attrs["thread_id"])
	require.Equal(t, "panelist-a", attrs["panelist_id"])
}

func TestStartProviderStream_AndToolExecution_NamedSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTracer := Tracer
	Tracer = tp.Tracer("test")
	defer func() { Tracer = prevTracer }()

	_, span1 := StartProviderStream(context.Background(), "anthropic", "claude-opus-4")
	span1.End()
	_, span2 := StartToolExecution(context.Background(), "search", 0)
	span2.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "provider.stream", spans[0].Name)
	require.Equal(t, "tool.execute", spans[1].Name)
}
