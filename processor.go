package dflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/dflow/internal/dtrace"
)

// ProcessorConfig is the configuration passed to [NewTransformProcessor].
type ProcessorConfig struct {
	// Configuration for the downstream publisher.
	// Under BlockOnSaturation, a slow downstream subscriber
	// throttles the upstream publisher.
	//
	// While forwarding is blocked that way, the upstream worker is inside OnNext,
	// so an upstream Cancel or CloseExceptionally is not observed
	// until downstream room frees up or the processor's context is done.
	// Give the processor a cancellable context if that matters.
	Publisher PublisherConfig

	// Demand requested from upstream in OnSubscribe.
	// One more item is requested after each item is forwarded,
	// so this is also the number of items in flight from upstream.
	// Zero means 1.
	UpstreamBatch int64
}

// TransformProcessor is a [Processor] that maps every item
// from its upstream publisher through a function
// and republishes the result to its own subscribers.
//
// It is the composition of an upstream [Subscriber]
// and a downstream [*SubmissionPublisher];
// the only thing they share is the transform function.
//
// A processor has exactly one upstream.
// Publishers in this package, and [Via], subscribe a distinct inbound
// subscriber per call (see [*TransformProcessor.NewInbound]),
// so only signals from the first upstream ever reach the downstream side.
// Calling the Subscriber methods directly uses a single shared inbound
// subscriber, which accepts the first OnSubscribe and cancels the rest.
type TransformProcessor[T, U any] struct {
	log    *slog.Logger
	tracer dtrace.Tracer

	ctx context.Context

	fn    func(T) (U, error)
	batch int64

	out *SubmissionPublisher[U]

	mu       sync.Mutex
	claimed  bool
	upstream Subscription

	directOnce sync.Once
	direct     Subscriber[T]
}

// NewTransformProcessor returns a processor applying fn to each item.
// A non-nil error from fn terminates all downstream subscriptions
// with a [*TransformError] and cancels the upstream subscription.
//
// fn is called from the upstream subscription's worker goroutine,
// one item at a time.
func NewTransformProcessor[T, U any](
	ctx context.Context,
	log *slog.Logger,
	cfg ProcessorConfig,
	fn func(T) (U, error),
) *TransformProcessor[T, U] {
	if fn == nil {
		panic("BUG: NewTransformProcessor called with nil transform function")
	}
	if cfg.UpstreamBatch < 0 {
		panic("BUG: UpstreamBatch must not be negative")
	}
	if cfg.UpstreamBatch == 0 {
		cfg.UpstreamBatch = 1
	}

	return &TransformProcessor[T, U]{
		log:    log,
		tracer: dtrace.TracerFrom(cfg.Publisher.TracerProvider),

		ctx: ctx,

		fn:    fn,
		batch: cfg.UpstreamBatch,

		out: NewSubmissionPublisher[U](ctx, log.With("side", "downstream"), cfg.Publisher),
	}
}

// NewInbound returns a new subscriber to register with an upstream publisher
// on the processor's behalf.
// Only the first inbound subscriber created is accepted;
// every later one cancels its subscription in OnSubscribe
// and drops whatever it receives.
func (p *TransformProcessor[T, U]) NewInbound() Subscriber[T] {
	p.mu.Lock()
	accepted := !p.claimed
	p.claimed = true
	p.mu.Unlock()

	if !accepted {
		p.log.Warn("Rejecting additional upstream")
	}
	return &inbound[T, U]{p: p, accepted: accepted}
}

func (p *TransformProcessor[T, U]) directInbound() Subscriber[T] {
	p.directOnce.Do(func() {
		p.direct = p.NewInbound()
	})
	return p.direct
}

func (p *TransformProcessor[T, U]) OnSubscribe(s Subscription) {
	p.directInbound().OnSubscribe(s)
}

func (p *TransformProcessor[T, U]) OnNext(item T) {
	p.directInbound().OnNext(item)
}

func (p *TransformProcessor[T, U]) OnError(err error) {
	p.directInbound().OnError(err)
}

func (p *TransformProcessor[T, U]) OnComplete() {
	p.directInbound().OnComplete()
}

func (p *TransformProcessor[T, U]) forward(item T) {
	ctx, span := p.tracer.Start(p.ctx, "transform")
	defer span.End()

	v, err := p.fn(item)
	if err != nil {
		terr := &TransformError{Err: err}
		dtrace.SpanError(span, terr)
		p.log.Info("Transform failed; terminating downstream", "err", err)

		p.out.CloseExceptionally(terr)
		p.cancelUpstream()
		return
	}

	if err := p.out.Submit(ctx, v); err != nil {
		var overflow *BufferOverflowError
		if !errors.As(err, &overflow) {
			// Closed or context finished: nothing further can be forwarded.
			dtrace.SpanError(span, err)
			p.log.Debug("Stopping upstream after failed submit", "err", err)
			p.cancelUpstream()
			return
		}
		// Overflow only removed the saturated downstream subscriptions;
		// the others received the item.
	}

	p.mu.Lock()
	up := p.upstream
	p.mu.Unlock()
	up.Request(1)
}

// Subscribe adds a downstream subscriber.
func (p *TransformProcessor[T, U]) Subscribe(s Subscriber[U]) {
	p.out.Subscribe(s)
}

// NumberOfSubscribers returns the number of active downstream subscriptions.
func (p *TransformProcessor[T, U]) NumberOfSubscribers() int {
	return p.out.NumberOfSubscribers()
}

// Wait blocks until all downstream subscription workers have returned.
func (p *TransformProcessor[T, U]) Wait() {
	p.out.Wait()
}

func (p *TransformProcessor[T, U]) cancelUpstream() {
	p.mu.Lock()
	up := p.upstream
	p.mu.Unlock()

	if up != nil {
		up.Cancel()
	}
}

// inbound is the upstream-facing side of a [*TransformProcessor].
// Exactly one inbound per processor is accepted;
// the others only ever cancel.
type inbound[T, U any] struct {
	p        *TransformProcessor[T, U]
	accepted bool

	subscribed atomic.Bool
}

func (in *inbound[T, U]) OnSubscribe(s Subscription) {
	if !in.accepted || !in.subscribed.CompareAndSwap(false, true) {
		in.p.log.Warn("Cancelling additional upstream subscription")
		s.Cancel()
		return
	}

	in.p.mu.Lock()
	in.p.upstream = s
	in.p.mu.Unlock()

	s.Request(in.p.batch)
}

func (in *inbound[T, U]) OnNext(item T) {
	if in.accepted {
		in.p.forward(item)
	}
}

// OnError propagates an upstream failure to every downstream subscriber.
func (in *inbound[T, U]) OnError(err error) {
	if in.accepted {
		in.p.out.CloseExceptionally(err)
	}
}

// OnComplete completes the downstream side normally.
func (in *inbound[T, U]) OnComplete() {
	if in.accepted {
		in.p.out.Close()
	}
}
