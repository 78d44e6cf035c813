// Package telemetry installs the process-wide OpenTelemetry trace provider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/saksflyt/internal/config"
)

// Provider is the tracer provider handed to the orchestrator's tracing
// observer together with the function that flushes it.
type Provider struct {
	trace.TracerProvider
	Shutdown func(context.Context) error
}

// Enabled reports whether spans are exported.
func (p Provider) Enabled() bool {
	_, ok := p.TracerProvider.(*sdktrace.TracerProvider)
	return ok
}

// Setup exports spans over OTLP/HTTP when cfg.Endpoint is set. Without an
// endpoint it returns the global (no-op) provider and registers nothing.
func Setup(ctx context.Context, cfg config.Telemetry) (Provider, error) {
	noop := Provider{
		TracerProvider: otel.GetTracerProvider(),
		Shutdown:       func(context.Context) error { return nil },
	}
	if cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "saksflyt"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return Provider{TracerProvider: tp, Shutdown: tp.Shutdown}, nil
}
