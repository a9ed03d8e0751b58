package dflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gordian-engine/dflow/dpubsub"
	"github.com/gordian-engine/dflow/internal/dmetric"
	"github.com/gordian-engine/dflow/internal/dtrace"
)

// subscription is the [Subscription] handed out by [*SubmissionPublisher].
//
// All subscriber callbacks run on the subscription's own worker goroutine (run).
// The demand counter and the cursor are only touched by that goroutine;
// other goroutines reach the worker through the pending counter,
// the wake channel, and the stop channel.
type subscription[T any] struct {
	p   *SubmissionPublisher[T]
	sub Subscriber[T]

	id  uuid.UUID
	log *slog.Logger

	// Owned by the worker goroutine.
	cur    *dpubsub.Cursor[T]
	demand int64

	// Demand added by Request that the worker has not yet absorbed.
	pending atomic.Int64

	// One-slot signal that pending changed.
	wake chan struct{}

	// Number of items the worker has taken from the buffer,
	// counted from the start of the publisher's stream.
	// Read by Submit to compute lag.
	consumed atomic.Uint64

	terminating atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}

	// Set before stop is closed; nil means a plain cancellation.
	stopErr error
}

func newSubscription[T any](
	p *SubmissionPublisher[T], s Subscriber[T], cur *dpubsub.Cursor[T],
) *subscription[T] {
	id := uuid.New()
	sub := &subscription[T]{
		p:   p,
		sub: s,

		id:  id,
		log: p.log.With("sub_id", id),

		cur: cur,

		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	sub.consumed.Store(cur.Pos())
	return sub
}

// Request adds n to the subscription's demand.
// It never blocks.
func (s *subscription[T]) Request(n int64) {
	if n <= 0 {
		s.terminate(&InvalidDemandError{N: n})
		return
	}

	for {
		old := s.pending.Load()
		next := old + n
		if next < 0 {
			// Overflowed; anything this large is unbounded anyway.
			next = Unbounded
		}
		if s.pending.CompareAndSwap(old, next) {
			break
		}
	}

	select {
	case s.wake <- struct{}{}:
	default:
		// Worker already has a pending wakeup.
	}
}

func (s *subscription[T]) Cancel() {
	s.terminate(nil)
}

// IsTerminating reports whether Cancel was called
// or the subscription was failed,
// even if the worker has not yet observed it.
func (s *subscription[T]) IsTerminating() bool {
	return s.terminating.Load()
}

// terminate stops the worker before its next callback.
// A nil err stops silently;
// otherwise the worker delivers OnError(err).
// Only the first call has any effect.
func (s *subscription[T]) terminate(err error) {
	s.stopOnce.Do(func() {
		s.stopErr = err
		s.terminating.Store(true)
		close(s.stop)
	})
}

// run is the subscription's worker.
// It calls OnSubscribe and then loops until a terminal state.
func (s *subscription[T]) run(ctx context.Context) {
	defer s.p.wg.Done()

	ctx, span := s.p.tracer.Start(
		ctx, "subscription worker",
		dtrace.WithAttributes(
			dtrace.PublisherAttr(s.p.name),
			dtrace.SubscriptionAttr(s.id),
		),
	)
	defer span.End()

	s.sub.OnSubscribe(s)

	reason, err := s.deliverLoop(ctx)

	s.terminating.Store(true)
	s.cur.Release()
	s.p.detach(s)

	s.p.inst.Terminated(context.WithoutCancel(ctx), reason)
	if err != nil {
		span.AddEvent(reason, dtrace.WithAttributes(dtrace.ErrorAttr(err)))
		dtrace.SpanError(span, err)
		s.log.Debug("Subscription terminated with error", "err", err)
	} else {
		span.AddEvent(reason)
		s.log.Debug("Subscription finished", "reason", reason)
	}
}

// deliverLoop delivers items until the subscription reaches a terminal state,
// returning the metric reason and the error passed to OnError, if any.
//
// Each iteration checks, in order:
// termination signals, new demand, a deliverable item,
// and normal publisher completion;
// and only then blocks.
// Checking in a fixed order keeps delivery deterministic
// where a single select would choose randomly.
func (s *subscription[T]) deliverLoop(ctx context.Context) (string, error) {
	for {
		if reason, done, err := s.checkTerminal(ctx); done {
			return reason, err
		}

		s.absorbDemand()

		if s.demand > 0 {
			if v, ok := s.cur.TryNext(); ok {
				s.deliver(ctx, v)
				continue
			}
		}

		select {
		case <-s.p.closedCh:
			// checkTerminal already handled an exceptional close.
			// Here there is either no demand or nothing left to deliver,
			// so the subscriber is done.
			s.sub.OnComplete()
			return dmetric.ReasonCompleted, nil
		default:
		}

		var ready <-chan struct{}
		if s.demand > 0 {
			ready = s.cur.Ready()
		}

		select {
		case <-ctx.Done():
		case <-s.stop:
		case <-s.p.closedCh:
		case <-s.wake:
		case <-ready:
		}
	}
}

// checkTerminal handles the states that end the subscription
// regardless of remaining demand or buffered items.
func (s *subscription[T]) checkTerminal(ctx context.Context) (
	reason string, done bool, err error,
) {
	select {
	case <-s.stop:
		if s.stopErr == nil {
			return dmetric.ReasonCancelled, true, nil
		}
		s.sub.OnError(s.stopErr)
		return dmetric.ReasonErrored, true, s.stopErr
	default:
	}

	select {
	case <-s.p.closedCh:
		if err := s.p.closeErr; err != nil {
			s.sub.OnError(err)
			return dmetric.ReasonErrored, true, err
		}
	default:
	}

	select {
	case <-ctx.Done():
		err := context.Cause(ctx)
		s.sub.OnError(err)
		return dmetric.ReasonErrored, true, err
	default:
	}

	return "", false, nil
}

func (s *subscription[T]) absorbDemand() {
	n := s.pending.Swap(0)
	if n == 0 {
		return
	}

	if s.demand > Unbounded-n {
		s.demand = Unbounded
	} else {
		s.demand += n
	}
}

func (s *subscription[T]) deliver(ctx context.Context, v T) {
	if s.demand != Unbounded {
		s.demand--
	}
	s.consumed.Store(s.cur.Pos())

	// The item has left the buffer as far as lag is concerned,
	// so a blocked submitter may proceed while OnNext runs.
	s.p.signalProgress()

	s.sub.OnNext(v)
	s.p.inst.Delivered(ctx)
}
