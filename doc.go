// Package dflow is an in-process implementation of the reactive streams
// contract: a [Publisher] delivers items to each [Subscriber]
// only as fast as that subscriber has asked for them,
// through the [Subscription] handed to it on subscribe.
//
// [SubmissionPublisher] is the concrete publisher.
// Applications call [*SubmissionPublisher.Submit] from any goroutine,
// and every subscription has its own worker goroutine
// that delivers buffered items in submission order.
// Delivery is asynchronous: Submit returns once the item is buffered,
// and the subscriber's OnNext runs later on that worker.
//
// [TransformProcessor] sits between a publisher and its subscribers,
// mapping each item through a function.
// [Consumer] is a ready-made subscriber that pulls a fixed number of items.
//
// Callbacks for a single subscriber never overlap,
// so a subscriber does not need its own locking
// for state touched only by its callbacks.
// Different subscribers are called concurrently.
package dflow
