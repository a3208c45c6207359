// Package observability wires OpenTelemetry tracing for the worker.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds telemetry configuration
type Config struct {
	Enabled        bool
	Exporter       string  // otlp-http, none
	Endpoint       string  // localhost:4318
	ServiceName    string  // pulsar
	ServiceVersion string  // build version
	SampleRate     float64 // 0.0 to 1.0
	// WorkerID, when set, is recorded as service.instance.id.
	WorkerID string
}

// Provider wraps the OpenTelemetry TracerProvider
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var globalProvider atomic.Pointer[Provider]

func init() {
	globalProvider.Store(disabledProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func disabledProvider() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("")}
}

// Init initializes the global telemetry provider.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		globalProvider.Store(disabledProvider())
		return nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("create OTLP exporter: %w", err)
		}
		exporter = exp
	case "none":
		exporter = discardExporter{}
	default:
		return fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
	return install(ctx, cfg, sdktrace.WithBatcher(exporter))
}

// InitWithProcessor installs a provider that sends spans to sp. Tests use it
// with an in-memory recorder.
func InitWithProcessor(ctx context.Context, cfg Config, sp sdktrace.SpanProcessor) error {
	return install(ctx, cfg, sdktrace.WithSpanProcessor(sp))
}

func install(ctx context.Context, cfg Config, opt sdktrace.TracerProviderOption) error {
	name := cfg.ServiceName
	if name == "" {
		name = "pulsar"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.WorkerID != "" {
		attrs = append(attrs, attribute.String("service.instance.id", cfg.WorkerID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	tp := sdktrace.NewTracerProvider(
		opt,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	globalProvider.Store(&Provider{
		tp:      tp,
		tracer:  tp.Tracer(name),
		enabled: true,
	})
	return nil
}

// Shutdown flushes and stops the telemetry provider.
func Shutdown(ctx context.Context) error {
	p := globalProvider.Load()
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := p.tp.Shutdown(ctx)
	globalProvider.Store(disabledProvider())
	return err
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	return globalProvider.Load().tracer
}

// Enabled returns whether tracing is enabled
func Enabled() bool {
	return globalProvider.Load().enabled
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                           { return nil }
