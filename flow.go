package dflow

import "math"

// Unbounded is the demand value meaning "send everything".
// A subscription holding Unbounded demand never counts it down.
const Unbounded int64 = math.MaxInt64

// Publisher is a provider of a potentially unbounded number of sequenced items,
// publishing them according to the demand received from its subscribers.
//
// A Publisher can serve multiple subscribers,
// dynamically subscribed at various points in time.
type Publisher[T any] interface {
	// Subscribe starts a new subscription for s.
	// The publisher calls s.OnSubscribe exactly once for each accepted subscription.
	// Subscribing s again while it is still subscribed is rejected
	// without any callback on s.
	Subscribe(s Subscriber[T])
}

// Subscriber receives a call to OnSubscribe once after being passed to
// [Publisher.Subscribe].
// No items arrive until the subscriber calls [Subscription.Request].
//
// At most one of OnError or OnComplete is called,
// and nothing is called after it.
//
// Publishers compare subscribers by identity,
// so implementations should be pointer types.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(item T)
	OnError(err error)
	OnComplete()
}

// Subscription represents the one-to-one lifecycle
// of a Subscriber subscribing to a Publisher.
//
// Both methods are safe to call from any goroutine,
// including from within the subscriber's own callbacks.
type Subscription interface {
	// Request adds n to the number of items the subscriber is willing to receive.
	// A non-positive n terminates the subscription with an [*InvalidDemandError].
	Request(n int64)

	// Cancel stops delivery.
	// A callback already in progress finishes,
	// but no further callbacks are made.
	// Cancel is idempotent.
	Cancel()
}

// Processor is a stage that is simultaneously a Subscriber to one stream
// and a Publisher of another.
type Processor[T, U any] interface {
	Subscriber[T]
	Publisher[U]
}

// Via subscribes proc to pub and returns proc as the downstream publisher,
// so that stages can be chained.
//
// If proc hands out a separate subscriber per upstream (as [*TransformProcessor] does),
// pub is given one of those rather than proc itself.
func Via[T, U any](pub Publisher[T], proc Processor[T, U]) Publisher[U] {
	pub.Subscribe(subscriberFor[T](proc))
	return proc
}

// To subscribes each of subs to pub, in order.
func To[T any](pub Publisher[T], subs ...Subscriber[T]) {
	for _, s := range subs {
		pub.Subscribe(s)
	}
}

// inboundProvider is implemented by processors that accept at most one upstream.
// Each call to NewInbound returns a distinct subscriber,
// and whether it is the accepted upstream is decided when it is created.
type inboundProvider[T any] interface {
	NewInbound() Subscriber[T]
}

// subscriberFor returns the subscriber that should actually be registered for s.
func subscriberFor[T any](s Subscriber[T]) Subscriber[T] {
	if ip, ok := s.(inboundProvider[T]); ok {
		return ip.NewInbound()
	}
	return s
}
