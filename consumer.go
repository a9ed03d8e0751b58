package dflow

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ConsumerConfig is the configuration passed to [NewConsumer].
type ConsumerConfig[T any] struct {
	// Total number of items the consumer will request over its lifetime.
	// Use [Unbounded] for no limit.
	Limit int64

	// Number of items requested at a time.
	// Zero means 1.
	Batch int64

	// Called with each item, on the subscription's worker goroutine.
	// May be nil.
	OnItem func(T)
}

// Consumer is a [Subscriber] that pulls up to a fixed number of items.
//
// It requests a batch in OnSubscribe and another batch
// each time the previous one has been fully delivered,
// until it has requested Limit items.
// Once Limit items have arrived it cancels the subscription
// and reports Done with a nil Err, without waiting for the publisher to close.
// With an Unbounded limit it runs until OnComplete or OnError.
//
// A Consumer serves one subscription;
// any subscription after the first is cancelled in OnSubscribe
// and leaves the consumer's state untouched.
type Consumer[T any] struct {
	limit  int64
	batch  int64
	onItem func(T)

	subscribed atomic.Bool

	// Only touched from callbacks of the accepted subscription,
	// which a publisher serializes.
	sub       Subscription
	requested int64
	inBatch   int64

	consumed atomic.Int64

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// NewConsumer returns a consumer ready to be passed to Subscribe.
func NewConsumer[T any](cfg ConsumerConfig[T]) *Consumer[T] {
	if cfg.Limit <= 0 {
		panic(fmt.Errorf("BUG: consumer limit must be positive (got %d)", cfg.Limit))
	}
	if cfg.Batch < 0 {
		panic(fmt.Errorf("BUG: consumer batch must not be negative (got %d)", cfg.Batch))
	}
	if cfg.Batch == 0 {
		cfg.Batch = 1
	}

	return &Consumer[T]{
		limit:  cfg.Limit,
		batch:  cfg.Batch,
		onItem: cfg.OnItem,

		done: make(chan struct{}),
	}
}

func (c *Consumer[T]) OnSubscribe(s Subscription) {
	if !c.subscribed.CompareAndSwap(false, true) {
		s.Cancel()
		return
	}

	c.sub = s
	c.requestBatch()
}

func (c *Consumer[T]) OnNext(item T) {
	n := c.consumed.Add(1)
	c.inBatch--

	if c.onItem != nil {
		c.onItem(item)
	}

	if c.limit != Unbounded && n >= c.limit {
		c.sub.Cancel()
		c.finish(nil)
		return
	}

	if c.inBatch == 0 {
		c.requestBatch()
	}
}

func (c *Consumer[T]) OnError(err error) {
	c.finish(err)
}

func (c *Consumer[T]) OnComplete() {
	c.finish(nil)
}

// Done returns a channel that is closed
// when the consumer receives OnError or OnComplete.
func (c *Consumer[T]) Done() <-chan struct{} {
	return c.done
}

// Err returns the error the consumer was terminated with.
// It is only meaningful after Done is closed.
func (c *Consumer[T]) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Consumed returns the number of items received so far.
// It is safe to call from any goroutine.
func (c *Consumer[T]) Consumed() int64 {
	return c.consumed.Load()
}

// requestBatch asks for the next batch, bounded by the remaining limit.
func (c *Consumer[T]) requestBatch() {
	if c.limit == Unbounded && c.batch == Unbounded {
		if c.requested == 0 {
			c.requested = Unbounded
			c.inBatch = Unbounded
			c.sub.Request(Unbounded)
		}
		return
	}

	n := min(c.batch, c.limit-c.requested)
	if n <= 0 {
		return
	}

	c.requested += n
	c.inBatch = n
	c.sub.Request(n)
}

func (c *Consumer[T]) finish(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}
