package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/argus-labs/tickcore/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultFlushTimeout = 5 * time.Second

// setupOpenTelemetry returns the logger and, when enabled, a tracer exporting over OTLP/gRPC.
// Disabled tracing yields a noop tracer so callers never branch on it.
func setupOpenTelemetry(
	ctx context.Context,
	enabled bool,
	opts Options,
) (otelTrace.Tracer, zerolog.Logger, func(context.Context) error, error) {
	logger := newLogger(opts, os.Stdout)
	nopTracer := noop.NewTracerProvider().Tracer(opts.ServiceName)
	nopShutdown := func(context.Context) error { return nil }

	if !enabled {
		return nopTracer, logger, nopShutdown, nil
	}

	res, err := newResource(opts)
	if err != nil {
		return nopTracer, logger, nopShutdown, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracerProvider, err := newTracerProvider(ctx, res, opts)
	if err != nil {
		return nopTracer, logger, nopShutdown, err
	}
	otel.SetTracerProvider(tracerProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tracerProvider.ForceFlush(ctx), tracerProvider.Shutdown(ctx))
	}
	return tracerProvider.Tracer(opts.ServiceName), logger, shutdown, nil
}

func newResource(opts Options) (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		))
	return res, eris.Wrap(err, "failed to build otel resource")
}

func newTracerProvider(ctx context.Context, res *resource.Resource, opts Options) (*trace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, eris.Wrap(err, "failed to create OTLP trace exporter")
	}

	var sampler trace.Sampler
	switch opts.TraceSampleRate {
	case 1.0:
		sampler = trace.AlwaysSample()
	case 0.0:
		sampler = trace.NeverSample()
	default:
		sampler = trace.ParentBased(trace.TraceIDRatioBased(opts.TraceSampleRate))
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler),
	), nil
}

func newLogger(opts Options, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writer := out
	switch opts.LogFormat {
	case LogFormatPretty:
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case LogFormatJSON:
	case LogFormatUndefined:
		assert.That(false, "log format must be validated before building the logger")
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
}
