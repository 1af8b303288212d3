package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

func testJob() types.Job {
	return types.Job{ID: "job-1", Type: types.TypeShotVideo, Attempt: 2, MaxAttempts: 3, CorrelationRef: "shot-4"}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(ctx context.Context, job types.Job, next Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	err := Chain(mark("outer"), mark("inner"))(context.Background(), testJob(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}, order)
}

func TestChainEmpty(t *testing.T) {
	want := errors.New("handler error")
	err := Chain()(context.Background(), testJob(), func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestRecover(t *testing.T) {
	mw := Recover(testLogger())

	err := mw(context.Background(), testJob(), func(context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "kaboom")

	want := errors.New("plain failure")
	assert.ErrorIs(t, mw(context.Background(), testJob(), func(context.Context) error { return want }), want)
}

func TestTracingRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mw := TracingWithTracer(tp.Tracer("test"))

	require.NoError(t, mw(context.Background(), testJob(), func(context.Context) error { return nil }))
	require.Error(t, mw(context.Background(), testJob(), func(context.Context) error { return errors.New("boom") }))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "genqueue.job.attempt", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("genqueue.job.id", "job-1"))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("genqueue.job.attempt", 2))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}

func TestConstantBackoff(t *testing.T) {
	c := NewConstant(DefaultRetryDelay)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, DefaultRetryDelay, c.Delay(attempt))
	}
}
