package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// otelTelemetry counts probes, recorded vulnerabilities and classifications
// on the global meter and exports spans over OTLP/HTTP.
type otelTelemetry struct {
	provider *sdktrace.TracerProvider

	probes          metric.Int64Counter
	vulnerabilities metric.Int64Counter
	classifications metric.Int64Counter
}

// New installs the configured trace pipeline. A disabled config yields a
// Telemetry that records nothing.
func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &otelTelemetry{provider: provider}
	meter := otel.Meter(cfg.ServiceName)

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
	}{
		{&t.probes, "paramhunt.probes.total", "Probe requests by verdict"},
		{&t.vulnerabilities, "paramhunt.vulnerabilities.total", "Recorded vulnerabilities by severity"},
		{&t.classifications, "paramhunt.classifications.total", "Classified parameters by category"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit("{count}"),
		)
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}

	return t, nil
}

func newSpanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "otlp", "otlphttp":
		exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

func add(counter metric.Int64Counter, key, value string) {
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String(key, value)))
}

func (t *otelTelemetry) RecordProbe(verdict string) {
	add(t.probes, "probe.verdict", verdict)
}

func (t *otelTelemetry) RecordVulnerability(severity types.Severity) {
	add(t.vulnerabilities, "vulnerability.severity", string(severity))
}

func (t *otelTelemetry) RecordClassification(category string) {
	add(t.classifications, "parameter.category", category)
}

// Close flushes buffered spans.
func (t *otelTelemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return t.provider.Shutdown(ctx)
}

// NewNoop returns a Telemetry that records nothing.
func NewNoop() core.Telemetry {
	return noopTelemetry{}
}

type noopTelemetry struct{}

func (noopTelemetry) RecordProbe(string)                 {}
func (noopTelemetry) RecordVulnerability(types.Severity) {}
func (noopTelemetry) RecordClassification(string)        {}
func (noopTelemetry) Close() error                       { return nil }
