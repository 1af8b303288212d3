package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ErrPanic wraps a recovered runner panic.
var ErrPanic = errors.New("runner panicked")

// Handler is the terminal function of an attempt.
type Handler func(ctx context.Context) error

// Middleware wraps every attempt. It must call next unless it short-circuits with an error.
type Middleware func(ctx context.Context, job types.Job, next Handler) error

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, job types.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, job, prev)
			}
		}
		return h(ctx)
	}
}

// Recover turns a runner panic into an ordinary attempt failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, job types.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("runner panicked",
					slog.String("job_id", string(job.ID)),
					slog.String("job_type", string(job.Type)),
					slog.Int("attempt", job.Attempt),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		return next(ctx)
	}
}

const tracerName = "github.com/ChuLiYu/genqueue"

// Tracing wraps each attempt in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each attempt in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, job types.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "genqueue.job.attempt",
			trace.WithAttributes(
				attribute.String("genqueue.job.id", string(job.ID)),
				attribute.String("genqueue.job.type", string(job.Type)),
				attribute.String("genqueue.job.correlation_ref", job.CorrelationRef),
				attribute.Int("genqueue.job.attempt", job.Attempt),
				attribute.Int("genqueue.job.max_attempts", job.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
