package dtest

import (
	"testing"
	"time"
)

// ScheduleTimeout is how long the "Soon" helpers wait
// before failing the test.
// It allows for a busy scheduler under the race detector,
// while still failing a deadlocked test quickly.
const ScheduleTimeout = 500 * time.Millisecond

// ReceiveSoon receives a value from ch,
// failing the test if no value arrives within [ScheduleTimeout].
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("did not receive value within %s", ScheduleTimeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleTimeout].
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case ch <- v:
		// Okay.
	case <-timer.C:
		t.Fatalf("could not send value within %s", ScheduleTimeout)
	}
}

// IsSending asserts that a receive on ch succeeds immediately.
// Typically used with channels that are closed as a signal.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		// Okay.
	default:
		t.Fatal("channel was not sending")
	}
}

// NotSending asserts that a receive on ch would block.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel was sending but should not have been")
	default:
		// Okay.
	}
}
