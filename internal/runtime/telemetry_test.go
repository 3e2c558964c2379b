package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/loqalabs/narrator-core/internal/config"
)

func attrMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestNarratorAttributes(t *testing.T) {
	cfg := config.Default()
	cfg.Node.ID = "node-7"
	cfg.Generation.Mode = "gemini"
	cfg.Speech.Mode = "playht"

	attrs := attrMap(narratorAttributes(cfg, "1.2.3"))
	require.Equal(t, "narrator-runtime", attrs["service.name"])
	require.Equal(t, "node-7", attrs["service.instance.id"])
	require.Equal(t, "1.2.3", attrs["service.version"])
	require.Equal(t, "gemini", attrs["narrator.generation.mode"])
	require.Equal(t, cfg.Generation.Model, attrs["narrator.generation.model"])
	require.Equal(t, "playht", attrs["narrator.speech.mode"])
	require.Equal(t, "reference", attrs["narrator.audio.mode"])

	cfg.Speech.Enabled = false
	cfg.Generation.Mode = "mock"
	attrs = attrMap(narratorAttributes(cfg, ""))
	require.NotContains(t, attrs, "narrator.speech.mode")
	require.NotContains(t, attrs, "narrator.generation.model")
	require.NotContains(t, attrs, "service.version")
}

func TestTraceExporterKind(t *testing.T) {
	require.Equal(t, "stdout", traceExporterKind(config.TelemetryConfig{TraceExporter: "auto"}))
	require.Equal(t, "otlp", traceExporterKind(config.TelemetryConfig{OTLPEndpoint: "collector:4317"}))
	require.Equal(t, "none", traceExporterKind(config.TelemetryConfig{TraceExporter: "none", OTLPEndpoint: "collector:4317"}))
}

func TestTracerProviderWithoutExport(t *testing.T) {
	tp, err := newTracerProvider(context.Background(), config.TelemetryConfig{TraceExporter: "none"}, resource.Empty(), testLogger())
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
}
