// Package tracing installs the global OpenTelemetry tracer provider.
//
// HOW SPANS GET OUT:
//
//	middleware.Tracing   server span per request
//	  └─ ledger.Open     child span around the fortune transaction
//	          │
//	          ▼
//	BatchSpanProcessor ──(every few seconds)──▶ OTLP/HTTP ──▶ collector
//
// Spans are buffered and sent in batches off the request path. Shutdown
// flushes what is still buffered, which is why server.release calls it
// before closing the database.
//
// TRACING OFF:
// Without OTEL_EXPORTER_OTLP_ENDPOINT the global provider stays the no-op
// one. Every tracer.Start call still works and costs next to nothing, so the
// code paths are identical with and without a collector.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config holds tracing configuration. An empty Endpoint disables export.
type Config struct {
	Endpoint    string // OTLP/HTTP collector URL, e.g. http://localhost:4318
	ServiceName string
	Environment string
	// SampleRatio is the fraction of root spans kept; <= 0 means 1.
	SampleRatio float64
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Init sets the global tracer provider and propagator. With no endpoint the
// global no-op provider is left in place and the returned shutdown is a
// no-op.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fortune-club"
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("tracing: creating OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)

	// ParentBased keeps the caller's sampling decision when a request
	// arrives with a trace context; the ratio applies to new traces only.
	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
