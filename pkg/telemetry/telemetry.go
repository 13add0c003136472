// Package telemetry sets up logging, tracing, metrics and error reporting for a tickcore process.
package telemetry

import (
	"context"
	"errors"

	"github.com/argus-labs/tickcore/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Telemetry struct {
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	Metrics     *Metrics
	serviceName string

	shutdown func(context.Context) error
}

// New builds the telemetry stack from the environment, overridden by opts.
func New(opts Options) (Telemetry, error) {
	config, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load telemetry config")
	}

	options := newDefaultOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	ctx := context.Background()
	tracer, logger, shutdown, err := setupOpenTelemetry(ctx, config.Enabled, options)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup telemetry")
	}

	metrics, err := newMetrics(options.Statsd)
	if err != nil {
		return Telemetry{}, errors.Join(eris.Wrap(err, "failed to setup metrics"), shutdown(ctx))
	}

	if err := sentry.New(options.SentryOptions); err != nil {
		return Telemetry{}, errors.Join(err, metrics.Close(), shutdown(ctx))
	}

	return Telemetry{
		Logger:      logger,
		Tracer:      tracer,
		Metrics:     metrics,
		serviceName: options.ServiceName,
		shutdown: func(ctx context.Context) error {
			sentry.Shutdown(ctx, defaultFlushTimeout)
			return errors.Join(metrics.Close(), shutdown(ctx))
		},
	}, nil
}

// Nop returns telemetry that discards everything. Used by tests and embedders that bring their
// own observability.
func Nop(serviceName string) Telemetry {
	return Telemetry{
		Logger:      zerolog.Nop(),
		Tracer:      noop.NewTracerProvider().Tracer(serviceName),
		Metrics:     NopMetrics(),
		serviceName: serviceName,
	}
}

// Shutdown flushes and stops every exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// GetLoggerWithTrace returns a component-specific logger enriched with the trace context of ctx.
func (t *Telemetry) GetLoggerWithTrace(ctx context.Context, component string) zerolog.Logger {
	logger := t.Logger.With().Str("component", t.serviceName+"."+component)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		spanCtx := span.SpanContext()
		logger = logger.
			Str("trace_id", spanCtx.TraceID().String()).
			Str("span_id", spanCtx.SpanID().String())
	}

	return logger.Logger()
}
