package dflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/dflow"
	"github.com/gordian-engine/dflow/dflowtest"
	"github.com/gordian-engine/dflow/internal/dtest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSubmissionPublisher_spans(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	p := newPublisher[int](t, ctx, dflow.PublisherConfig{
		Name:           "traced",
		TracerProvider: tp,
	})

	s := dflowtest.NewSubscriber[int](dflow.Unbounded)
	p.Subscribe(s)

	submitAll(t, p, []int{1, 2})
	p.Close()
	dtest.ReceiveSoon(t, s.Terminated())
	p.Wait()

	// Closed publishers reject submits, and the span records it.
	require.ErrorIs(t, p.Submit(ctx, 3), dflow.ErrClosedPublisher)

	counts := make(map[string]int)
	var failedSubmits int
	for _, span := range rec.Ended() {
		counts[span.Name()]++
		if span.Name() == "submit" && span.Status().Code == codes.Error {
			failedSubmits++
		}
	}

	require.Equal(t, 3, counts["submit"])
	require.Equal(t, 1, counts["close"])
	require.Equal(t, 1, counts["subscription worker"])
	require.Equal(t, 1, failedSubmits)
}

func TestTransformProcessor_transformErrorSpan(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	pub := newPublisher[string](t, ctx, dflow.PublisherConfig{})
	proc := newParseProcessor(t, ctx, dflow.ProcessorConfig{
		Publisher: dflow.PublisherConfig{TracerProvider: tp},
	})

	s := dflowtest.NewSubscriber[int](dflow.Unbounded)
	pub.Subscribe(proc)
	proc.Subscribe(s)

	submitAll(t, pub, []string{"nope"})
	dtest.ReceiveSoon(t, s.Terminated())
	pub.Close()

	var transformErrors int
	for _, span := range rec.Ended() {
		if span.Name() == "transform" && span.Status().Code == codes.Error {
			transformErrors++
		}
	}
	require.Equal(t, 1, transformErrors)
}

func TestSubmissionPublisher_workerSpanRecordsError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	p := newPublisher[int](t, ctx, dflow.PublisherConfig{TracerProvider: tp})

	s := dflowtest.NewSubscriber[int](dflow.Unbounded)
	p.Subscribe(s)
	dtest.ReceiveSoon(t, s.Subscribed())

	p.CloseExceptionally(errors.New("boom"))
	dtest.ReceiveSoon(t, s.Terminated())
	p.Wait()

	var worker sdktrace.ReadOnlySpan
	for _, span := range rec.Ended() {
		if span.Name() == "subscription worker" {
			worker = span
		}
	}
	require.NotNil(t, worker)
	require.Equal(t, codes.Error, worker.Status().Code)

	events := worker.Events()
	require.Len(t, events, 1)
	require.Equal(t, "errored", events[0].Name)
	require.Contains(t, events[0].Attributes, attribute.String("err", "boom"))
}
