// Package sentry reports panics and handled errors to Sentry. Every function is a no-op until New
// is called with a DSN.
package sentry

import (
	"context"
	"strconv"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Dsn         string
	Environment string
	Tags        map[string]string
}

const flushTimeout = 5 * time.Second

// New initializes the Sentry client. An empty DSN leaves Sentry disabled.
func New(opt Options) error {
	if opt.Dsn == "" {
		return nil
	}

	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:              opt.Dsn,
		Environment:      opt.Environment,
		Tags:             opt.Tags,
		AttachStacktrace: true,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize sentry")
	}

	return nil
}

// RecoverAndFlush must be deferred directly. It reports a panic, if any, and flushes buffered
// events. With repanic the panic continues after the flush.
func RecoverAndFlush(repanic bool) {
	if !isInitialized() {
		return
	}
	if r := recover(); r != nil {
		sentrygo.CurrentHub().Recover(r)
		sentrygo.Flush(flushTimeout)
		if repanic {
			panic(r)
		}
		return
	}
	sentrygo.Flush(flushTimeout)
}

// CaptureException reports a handled error tagged with the tick it happened in.
func CaptureException(ctx context.Context, err error, tick uint64) {
	if !isInitialized() || err == nil {
		return
	}
	sentrygo.WithScope(func(scope *sentrygo.Scope) {
		scope.SetTag("tick", strconv.FormatUint(tick, 10))
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			scope.SetTag("trace_id", spanCtx.TraceID().String())
			scope.SetTag("span_id", spanCtx.SpanID().String())
		}
		sentrygo.CaptureException(err)
	})
}

// Shutdown flushes buffered events within timeout or the deadline of ctx, whichever is sooner.
func Shutdown(ctx context.Context, timeout time.Duration) {
	if !isInitialized() {
		return
	}
	t := timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until > 0 && until < t {
			t = until
		}
	}
	if t <= 0 {
		t = 1 * time.Second
	}
	sentrygo.Flush(t)
}

func isInitialized() bool {
	return sentrygo.CurrentHub().Client() != nil
}
