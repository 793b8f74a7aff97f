// Package otel configures OpenTelemetry tracing for gtagkit binaries.
package otel

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Settings are read from the environment.
type Settings struct {
	Endpoint string `env:"GTAG_OTEL_ENDPOINT"`
	// Enabled lets an endpoint stay configured while tracing is switched off.
	Enabled bool `env:"GTAG_OTEL_ENABLED" envDefault:"true"`
	// SampleRatio below 1 samples traces by id.
	SampleRatio float64 `env:"GTAG_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Setup registers a global tracer provider exporting spans over OTLP/HTTP.
//
// Tracing is opt-in: with no GTAG_OTEL_ENDPOINT, or GTAG_OTEL_ENABLED=false,
// nothing is registered and the returned shutdown is a no-op. The lifecycle
// controller then records into the default no-op provider.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var s Settings
	if err := env.Parse(&s); err != nil {
		return noop, fmt.Errorf("otel settings: %w", err)
	}
	if !s.Enabled || s.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(s.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("otel resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if s.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
