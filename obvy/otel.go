package iqscope

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracing backends accepted by InitTracing
const (
	TracingNone      = ""
	TracingHoneycomb = "honeycomb"
	TracingOTLP      = "otlp"
)

// InitOTelHNY uses the Honeycomb library to interface with OTel.
// Endpoint and key come from the usual OTEL_* and HONEYCOMB_* variables.
func InitOTelHNY() (func(), error) {
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName("iqscope"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure OpenTelemetry: %w", err)
	}
	return func() { otelShutdown() }, nil
}

// InitOTelOTLP exports spans over OTLP/HTTP with W3C trace context and baggage propagation
func InitOTelOTLP(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// InitTracing starts the named backend and returns its shutdown.
// An empty name leaves the global no-op provider in place.
func InitTracing(ctx context.Context, backend string) (func(), error) {
	switch backend {
	case TracingNone:
		return func() {}, nil
	case TracingHoneycomb:
		return InitOTelHNY()
	case TracingOTLP:
		tp, err := InitOTelOTLP(ctx)
		if err != nil {
			return nil, err
		}
		return func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("Tracer shutdown failed", slog.Any("Error", err))
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown tracing backend %q", backend)
	}
}
