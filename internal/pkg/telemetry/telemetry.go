// Package telemetry initializes OpenTelemetry tracing, metrics, and logging
// with OTLP exporters over gRPC. All providers share a single Resource
// describing the service, are registered globally, and are torn down
// together through the returned ShutdownFunc.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// loggerProvider holds the globally registered log provider, if telemetry
// has been initialized. It is consumed by the logger package to bridge
// zap entries into the OTLP pipeline.
var loggerProvider *sdklog.LoggerProvider

// LoggerProvider returns the registered OTEL log provider, or nil when
// telemetry was never initialized. Callers must tolerate a nil return.
func LoggerProvider() *sdklog.LoggerProvider {
	return loggerProvider
}

// ShutdownFunc flushes and stops every telemetry provider. It should be
// invoked once during application shutdown.
type ShutdownFunc func(ctx context.Context) error

// newResource builds the OpenTelemetry Resource for this service by merging
// the environment-derived defaults with the service name attribute.
func newResource(serviceName string) (*sdkresource.Resource, error) {
	return sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

// initMeterProvider registers a global MeterProvider backed by an OTLP gRPC
// exporter with a periodic reader.
func initMeterProvider(ctx context.Context, res *sdkresource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// initTracerProvider registers a global TracerProvider backed by a batched
// OTLP gRPC exporter.
func initTracerProvider(ctx context.Context, res *sdkresource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// initLoggerProvider creates the log provider used by the zap bridge. The
// provider is stored package-side rather than on the otel global, since the
// global log API is still experimental.
func initLoggerProvider(res *sdkresource.Resource) *sdklog.LoggerProvider {
	lp := sdklog.NewLoggerProvider(sdklog.WithResource(res))
	loggerProvider = lp
	return lp
}

// Init configures OpenTelemetry metrics, traces, and logs for the named
// service using OTLP over gRPC. Exporter endpoints and credentials come from
// the standard OTEL_* environment variables.
//
// Returns:
//   - A ShutdownFunc that flushes and stops all providers.
//   - An error if any provider fails to initialize.
func Init(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	mp, err := initMeterProvider(ctx, res)
	if err != nil {
		return nil, err
	}

	tp, err := initTracerProvider(ctx, res)
	if err != nil {
		return nil, err
	}

	lp := initLoggerProvider(res)

	return func(ctx context.Context) error {
		errs := []error{
			mp.Shutdown(ctx),
			tp.Shutdown(ctx),
			lp.Shutdown(ctx),
		}
		return errors.Join(errs...)
	}, nil
}
