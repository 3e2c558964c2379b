package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/narrator-core/internal/config"
)

// setupTelemetry installs the global tracer and meter providers. The returned
// handler serves the prometheus scrape endpoint and may be nil.
func setupTelemetry(cfg config.Config, version string, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(narratorAttributes(cfg, version)...))
	if err != nil {
		return nil, nil, err
	}

	traceProvider, err := newTracerProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := newMeterProvider(res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}
	return shutdown, metricHandler, nil
}

// narratorAttributes describes this node so spans and series from several
// nodes can be told apart by backend.
func narratorAttributes(cfg config.Config, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.RuntimeName),
		attribute.String("service.instance.id", cfg.Node.ID),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("narrator.generation.mode", cfg.Generation.Mode),
		attribute.String("narrator.cache.mode", cfg.Cache.Mode),
		attribute.String("narrator.audio.mode", cfg.Audio.Mode),
	}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	if cfg.Generation.Mode == "gemini" {
		attrs = append(attrs, attribute.String("narrator.generation.model", cfg.Generation.Model))
	}
	if cfg.Speech.Enabled {
		attrs = append(attrs, attribute.String("narrator.speech.mode", cfg.Speech.Mode))
	}
	return attrs
}

// traceExporterKind resolves "auto": otlp when an endpoint is set, stdout otherwise.
func traceExporterKind(tcfg config.TelemetryConfig) string {
	kind := tcfg.TraceExporter
	if kind == "" || kind == "auto" {
		if strings.TrimSpace(tcfg.OTLPEndpoint) != "" {
			return "otlp"
		}
		return "stdout"
	}
	return kind
}

func newTracerProvider(ctx context.Context, tcfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	kind := traceExporterKind(tcfg)
	switch kind {
	case "otlp":
		endpoint := strings.TrimSpace(tcfg.OTLPEndpoint)
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if tcfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Info("tracing initialized", slog.String("exporter", kind), slog.String("endpoint", endpoint))
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Info("tracing initialized", slog.String("exporter", kind))
	default:
		// spans are still created for context propagation but never exported
		logger.Info("tracing export disabled")
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slogError(err))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	logger.Info("metrics initialized", slog.String("exporter", "prometheus"))
	return meter, promhttp.Handler()
}
