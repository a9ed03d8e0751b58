// Package dmetric holds the otel instruments shared by dflow publishers.
package dmetric

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type MeterProvider = metric.MeterProvider

const meterName = "github.com/gordian-engine/dflow"

// Termination reasons recorded on the terminated counter.
const (
	ReasonCompleted = "completed"
	ReasonErrored   = "errored"
	ReasonCancelled = "cancelled"
)

// Instruments is the set of counters a publisher updates.
// The zero value is not usable; call [New].
type Instruments struct {
	attrs metric.MeasurementOption

	submitted  metric.Int64Counter
	delivered  metric.Int64Counter
	terminated metric.Int64Counter
}

// New creates the publisher instruments from mp.
// A nil mp falls back to the no-op provider.
// Instrument creation errors are not fatal to otel
// (a usable no-op instrument is still returned),
// so they are only reported through the returned error.
func New(mp MeterProvider, publisherName string) (*Instruments, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m := mp.Meter(meterName)

	i := &Instruments{
		attrs: metric.WithAttributeSet(attribute.NewSet(
			attribute.String("dflow.publisher", publisherName),
		)),
	}

	var err, firstErr error
	i.submitted, err = m.Int64Counter(
		"dflow.items.submitted",
		metric.WithDescription("Items accepted by Submit."),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	i.delivered, err = m.Int64Counter(
		"dflow.items.delivered",
		metric.WithDescription("OnNext calls made to subscribers."),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	i.terminated, err = m.Int64Counter(
		"dflow.subscriptions.terminated",
		metric.WithDescription("Subscriptions that reached a terminal state."),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}

	return i, firstErr
}

func (i *Instruments) Submitted(ctx context.Context) {
	i.submitted.Add(ctx, 1, i.attrs)
}

func (i *Instruments) Delivered(ctx context.Context) {
	i.delivered.Add(ctx, 1, i.attrs)
}

// Terminated records one subscription ending for the given reason.
func (i *Instruments) Terminated(ctx context.Context, reason string) {
	i.terminated.Add(
		ctx, 1, i.attrs,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
