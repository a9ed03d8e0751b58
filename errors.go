package dflow

import (
	"errors"
	"fmt"
)

// ErrClosedPublisher is returned from [*SubmissionPublisher.Submit]
// after the publisher has been closed.
var ErrClosedPublisher = errors.New("publisher is closed")

// InvalidDemandError is delivered through OnError
// when a subscriber requests a non-positive number of items.
type InvalidDemandError struct {
	N int64
}

func (e *InvalidDemandError) Error() string {
	return fmt.Sprintf("invalid demand %d: request must be positive", e.N)
}

// DoubleSubscriptionError is returned by [*SubmissionPublisher.TrySubscribe]
// for a subscriber that is already subscribed to that publisher.
// The existing subscription is not affected.
type DoubleSubscriptionError struct {
	Publisher string
}

func (e *DoubleSubscriptionError) Error() string {
	if e.Publisher == "" {
		return "subscriber is already subscribed"
	}
	return "subscriber is already subscribed to " + e.Publisher
}

// BufferOverflowError indicates that one or more subscriptions
// had Capacity undelivered items when a new item was submitted,
// on a publisher configured with [FailOnSaturation].
//
// The saturated subscriptions receive it through OnError,
// and Submit returns it.
type BufferOverflowError struct {
	Capacity int

	// Number of subscriptions that were terminated.
	Saturated int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf(
		"buffer capacity %d exceeded for %d subscription(s)",
		e.Capacity, e.Saturated,
	)
}

// TransformError wraps the error returned by a [TransformProcessor]'s function.
// It terminates the processor's downstream subscriptions.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string {
	return "transform failed: " + e.Err.Error()
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
