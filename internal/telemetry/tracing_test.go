package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderSamplesWhenEnabled(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "vitals-test", Version: "dev", Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	spanCtx, span := tp.Tracer("test").Start(ctx, "op")
	defer span.End()
	require.True(t, span.SpanContext().IsSampled())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))
}

func TestInitTracerProviderDisabled(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "vitals-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(ctx, "op")
	defer span.End()
	require.False(t, span.SpanContext().IsSampled())
}

func TestInitTracerProviderUsesExporterWhenEndpointSet(t *testing.T) {
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })

	var gotEndpoint string
	newExporter = func(_ context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		gotEndpoint = cfg.Endpoint
		return tracetest.NewInMemoryExporter(), nil
	}

	tp, err := InitTracerProvider(context.Background(), Config{
		ServiceName: "vitals-test",
		Enabled:     true,
		Endpoint:    "collector:4317",
		Insecure:    true,
	})
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(context.Background()))
	require.Equal(t, "collector:4317", gotEndpoint)
}

func TestInitTracerProviderExporterError(t *testing.T) {
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })
	newExporter = func(context.Context, Config) (sdktrace.SpanExporter, error) {
		return nil, errors.New("dial failed")
	}

	_, err := InitTracerProvider(context.Background(), Config{ServiceName: "x", Enabled: true, Endpoint: "c:4317"})
	require.ErrorContains(t, err, "otlp exporter")
}

func TestSamplerFor(t *testing.T) {
	require.Equal(t, sdktrace.NeverSample().Description(), samplerFor(Config{}).Description())
	require.Contains(t, samplerFor(Config{Enabled: true, SampleRatio: 0.25}).Description(), "TraceIDRatioBased{0.25}")
	require.Contains(t, samplerFor(Config{Enabled: true}).Description(), "AlwaysOnSampler")
}
