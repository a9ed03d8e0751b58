package dflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/dflow/dpubsub"
	"github.com/gordian-engine/dflow/internal/dmetric"
	"github.com/gordian-engine/dflow/internal/dtrace"
)

// DefaultMaxBufferCapacity is the per-subscription buffer capacity
// used when [PublisherConfig.MaxBufferCapacity] is zero.
const DefaultMaxBufferCapacity = 256

// SaturationPolicy decides what [*SubmissionPublisher.Submit] does
// when a subscription already has MaxBufferCapacity undelivered items.
type SaturationPolicy uint8

const (
	// BlockOnSaturation makes Submit wait until every subscription
	// has room for the item, or until Submit's context is done.
	BlockOnSaturation SaturationPolicy = iota

	// FailOnSaturation terminates each saturated subscription
	// with a [*BufferOverflowError],
	// still delivers the item to the remaining subscriptions,
	// and returns the error from Submit.
	FailOnSaturation
)

func (p SaturationPolicy) String() string {
	switch p {
	case BlockOnSaturation:
		return "block"
	case FailOnSaturation:
		return "fail"
	default:
		return fmt.Sprintf("SaturationPolicy(%d)", uint8(p))
	}
}

// PublisherConfig is the configuration passed to [NewSubmissionPublisher].
type PublisherConfig struct {
	// Name identifies the publisher in logs, spans, and metrics.
	Name string

	// Maximum number of submitted items a single subscription
	// may have outstanding before the Saturation policy applies.
	// Zero means [DefaultMaxBufferCapacity].
	MaxBufferCapacity int

	Saturation SaturationPolicy

	// Optional; the no-op providers are used when nil.
	TracerProvider dtrace.TracerProvider
	MeterProvider  dmetric.MeterProvider
}

// SubmissionPublisher is a [Publisher] that buffers submitted items
// and delivers them to each subscriber on a dedicated worker goroutine,
// honoring that subscriber's demand.
//
// Every subscriber sees every item submitted after it subscribed,
// in submission order.
// All subscriptions share one buffer;
// an item is released once every subscription has passed it.
type SubmissionPublisher[T any] struct {
	log    *slog.Logger
	tracer dtrace.Tracer
	inst   *dmetric.Instruments

	// Root context for all subscription workers.
	ctx context.Context

	name     string
	capacity uint64
	policy   SaturationPolicy

	mu sync.Mutex

	// Node that the next submitted item is published into.
	tail *dpubsub.Stream[T]

	// Count of items submitted so far.
	submitted uint64

	// Live subscriptions, in subscription order.
	active []*subscription[T]

	// Non-nil while a Submit call is blocked on saturation.
	// Closed (and reset to nil) whenever a subscription makes progress.
	progress chan struct{}

	closed   bool
	closeErr error

	// Closed when closed is set.
	// closeErr is assigned before this is closed,
	// so workers may read closeErr once they observe closedCh.
	closedCh chan struct{}

	wg sync.WaitGroup
}

// NewSubmissionPublisher returns a new publisher.
// Cancelling ctx terminates every subscription with
// OnError(context.Cause(ctx)).
func NewSubmissionPublisher[T any](
	ctx context.Context,
	log *slog.Logger,
	cfg PublisherConfig,
) *SubmissionPublisher[T] {
	if cfg.MaxBufferCapacity < 0 {
		panic(fmt.Errorf(
			"BUG: MaxBufferCapacity must not be negative (got %d)",
			cfg.MaxBufferCapacity,
		))
	}
	if cfg.MaxBufferCapacity == 0 {
		cfg.MaxBufferCapacity = DefaultMaxBufferCapacity
	}

	inst, err := dmetric.New(cfg.MeterProvider, cfg.Name)
	if err != nil {
		log.Warn("Failed to create some publisher metrics", "err", err)
	}

	return &SubmissionPublisher[T]{
		log:    log,
		tracer: dtrace.TracerFrom(cfg.TracerProvider),
		inst:   inst,

		ctx: ctx,

		name:     cfg.Name,
		capacity: uint64(cfg.MaxBufferCapacity),
		policy:   cfg.Saturation,

		tail: dpubsub.NewStream[T](),

		closedCh: make(chan struct{}),
	}
}

// Subscribe adds s as a subscriber.
// It observes items submitted after this call.
//
// If s is already subscribed, the call is logged and otherwise ignored;
// the existing subscription is unaffected.
// Use [*SubmissionPublisher.TrySubscribe] to detect that case.
//
// If the publisher is already closed, s still receives OnSubscribe
// on a new worker, followed by OnComplete or OnError with the close cause.
func (p *SubmissionPublisher[T]) Subscribe(s Subscriber[T]) {
	if err := p.TrySubscribe(s); err != nil {
		p.log.Warn("Ignoring duplicate subscription", "err", err)
	}
}

// TrySubscribe is like Subscribe,
// but returns a [*DoubleSubscriptionError] if s is already subscribed.
// In that case no callback is made on s.
func (p *SubmissionPublisher[T]) TrySubscribe(s Subscriber[T]) error {
	if s == nil {
		panic("BUG: Subscribe called with nil Subscriber")
	}
	s = subscriberFor(s)

	p.mu.Lock()

	for _, existing := range p.active {
		if existing.sub == s {
			p.mu.Unlock()
			return &DoubleSubscriptionError{Publisher: p.name}
		}
	}

	// A closed publisher still gets a worker,
	// which reports the close right after OnSubscribe.
	sub := newSubscription(p, s, dpubsub.NewCursor(p.tail, p.submitted))
	p.active = append(p.active, sub)
	p.wg.Add(1)

	p.mu.Unlock()

	go sub.run(p.ctx)
	return nil
}

// Submit buffers item for every current subscriber.
// Delivery happens asynchronously on each subscription's worker.
//
// Submit is safe for concurrent use.
// Concurrent Submit calls are ordered by when they acquire the publisher,
// so callers needing a particular order must submit from one goroutine.
//
// It returns [ErrClosedPublisher] after Close or CloseExceptionally.
// Under [BlockOnSaturation] it returns context.Cause(ctx)
// if ctx finishes before there is room.
// Under [FailOnSaturation] it returns a [*BufferOverflowError]
// if any subscription was terminated for lack of room;
// the item was still accepted for the other subscriptions.
func (p *SubmissionPublisher[T]) Submit(ctx context.Context, item T) error {
	ctx, span := p.tracer.Start(
		ctx, "submit",
		dtrace.WithAttributes(dtrace.PublisherAttr(p.name)),
	)
	defer span.End()

	for {
		p.mu.Lock()

		if p.closed {
			p.mu.Unlock()
			dtrace.SpanError(span, ErrClosedPublisher)
			return ErrClosedPublisher
		}

		var saturated bitset.BitSet
		for i, s := range p.active {
			if s.IsTerminating() {
				continue
			}
			if p.submitted-s.consumed.Load() >= p.capacity {
				saturated.Set(uint(i))
			}
		}

		if saturated.Any() && p.policy == BlockOnSaturation {
			if p.progress == nil {
				p.progress = make(chan struct{})
			}
			progress := p.progress
			p.mu.Unlock()

			span.AddEvent("await buffer space")
			select {
			case <-ctx.Done():
				err := context.Cause(ctx)
				dtrace.SpanError(span, err)
				return err
			case <-progress:
				continue
			}
		}

		var overflow *BufferOverflowError
		if saturated.Any() {
			overflow = &BufferOverflowError{
				Capacity:  int(p.capacity),
				Saturated: int(saturated.Count()),
			}
			for i, ok := saturated.NextSet(0); ok; i, ok = saturated.NextSet(i + 1) {
				p.active[i].terminate(overflow)
			}
		}

		seq := p.submitted
		p.tail = p.tail.Publish(item)
		p.submitted++
		nSubs := len(p.active)

		p.mu.Unlock()

		p.inst.Submitted(ctx)
		span.SetAttributes(dtrace.SequenceAttr(seq), dtrace.SubscribersAttr(nSubs))

		if overflow != nil {
			p.log.Info(
				"Terminated saturated subscriptions",
				"count", overflow.Saturated,
				"capacity", overflow.Capacity,
			)
			dtrace.SpanError(span, overflow)
			return overflow
		}
		return nil
	}
}

// Close completes the publisher normally.
// Each subscription receives OnComplete once it has received
// every item it has demand for; items beyond its demand are discarded.
// Further calls to Submit fail. Close is idempotent.
func (p *SubmissionPublisher[T]) Close() {
	p.close(nil)
}

// CloseExceptionally terminates every subscription with OnError(err)
// as soon as its worker observes the close,
// discarding undelivered items.
// Further calls to Submit fail.
// It has no effect if the publisher is already closed.
func (p *SubmissionPublisher[T]) CloseExceptionally(err error) {
	if err == nil {
		panic("BUG: CloseExceptionally called with nil error")
	}
	p.close(err)
}

func (p *SubmissionPublisher[T]) close(err error) {
	_, span := p.tracer.Start(
		p.ctx, "close",
		dtrace.WithAttributes(dtrace.PublisherAttr(p.name)),
	)
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		span.AddEvent("already closed")
		return
	}

	p.closed = true
	p.closeErr = err
	close(p.closedCh)

	// Blocked submitters need to observe the close.
	p.signalProgressLocked()

	if err != nil {
		dtrace.SpanError(span, err)
		p.log.Info("Closing exceptionally", "err", err, "subscribers", len(p.active))
	} else {
		p.log.Debug("Closing", "subscribers", len(p.active))
	}
}

// IsClosed reports whether Close or CloseExceptionally has been called.
func (p *SubmissionPublisher[T]) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ClosedException returns the error given to CloseExceptionally,
// or nil if the publisher is open or was closed normally.
func (p *SubmissionPublisher[T]) ClosedException() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// NumberOfSubscribers returns the number of subscriptions
// that have not yet finished.
func (p *SubmissionPublisher[T]) NumberOfSubscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// EstimateMaximumLag returns the largest number of items
// submitted but not yet taken by any single subscription.
func (p *SubmissionPublisher[T]) EstimateMaximumLag() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var maxLag uint64
	for _, s := range p.active {
		if lag := p.submitted - s.consumed.Load(); lag > maxLag {
			maxLag = lag
		}
	}
	return int(maxLag)
}

// Wait blocks until every subscription worker has returned.
func (p *SubmissionPublisher[T]) Wait() {
	p.wg.Wait()
}

// signalProgress wakes any Submit call waiting for buffer space.
func (p *SubmissionPublisher[T]) signalProgress() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signalProgressLocked()
}

func (p *SubmissionPublisher[T]) signalProgressLocked() {
	if p.progress != nil {
		close(p.progress)
		p.progress = nil
	}
}

// detach removes s from the active set after its worker finishes.
func (p *SubmissionPublisher[T]) detach(s *subscription[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, a := range p.active {
		if a == s {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}

	// A removed subscription may have been the one holding up a submitter.
	p.signalProgressLocked()
}
