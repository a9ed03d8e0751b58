// Package dflowtest contains test fixtures for dflow publishers and processors.
package dflowtest

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/dflow"
)

// Subscriber is a [dflow.Subscriber] that records every callback.
//
// It requests InitialDemand items in OnSubscribe,
// and if set, calls OnNextHook after recording each item,
// with the subscription so that the hook can request more or cancel.
// Any subscription after the first is counted and cancelled.
//
// It also detects overlapping callbacks,
// which a conforming publisher never makes.
type Subscriber[T any] struct {
	InitialDemand int64
	OnNextHook    func(s dflow.Subscription, item T)

	inFlight atomic.Int32
	overlaps atomic.Int32

	mu          sync.Mutex
	sub         dflow.Subscription
	items       []T
	errs        []error
	completions int
	subscribes  int
	afterTerm   int

	subscribedOnce sync.Once
	subscribed     chan struct{}
	terminatedOnce sync.Once
	terminated     chan struct{}
}

// NewSubscriber returns a recording subscriber
// that requests initialDemand items on subscribe.
// Zero initialDemand means nothing is requested automatically.
func NewSubscriber[T any](initialDemand int64) *Subscriber[T] {
	return &Subscriber[T]{
		InitialDemand: initialDemand,

		subscribed: make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

func (s *Subscriber[T]) enter() {
	if s.inFlight.Add(1) != 1 {
		s.overlaps.Add(1)
	}
}

func (s *Subscriber[T]) exit() {
	s.inFlight.Add(-1)
}

func (s *Subscriber[T]) OnSubscribe(sub dflow.Subscription) {
	s.mu.Lock()
	s.subscribes++
	if s.sub != nil {
		// Rejected subscriptions may arrive from another publisher's worker
		// at any time, so they are not part of the overlap check.
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	s.enter()
	defer s.exit()

	s.subscribedOnce.Do(func() { close(s.subscribed) })

	if s.InitialDemand > 0 {
		sub.Request(s.InitialDemand)
	}
}

func (s *Subscriber[T]) OnNext(item T) {
	s.enter()
	defer s.exit()

	s.mu.Lock()
	s.items = append(s.items, item)
	if s.isTerminatedLocked() {
		s.afterTerm++
	}
	sub := s.sub
	s.mu.Unlock()

	if s.OnNextHook != nil {
		s.OnNextHook(sub, item)
	}
}

func (s *Subscriber[T]) OnError(err error) {
	s.enter()
	defer s.exit()

	s.mu.Lock()
	if s.isTerminatedLocked() {
		s.afterTerm++
	}
	s.errs = append(s.errs, err)
	s.mu.Unlock()

	s.terminatedOnce.Do(func() { close(s.terminated) })
}

func (s *Subscriber[T]) OnComplete() {
	s.enter()
	defer s.exit()

	s.mu.Lock()
	if s.isTerminatedLocked() {
		s.afterTerm++
	}
	s.completions++
	s.mu.Unlock()

	s.terminatedOnce.Do(func() { close(s.terminated) })
}

func (s *Subscriber[T]) isTerminatedLocked() bool {
	return s.completions > 0 || len(s.errs) > 0
}

// Subscribed is closed after the first OnSubscribe.
func (s *Subscriber[T]) Subscribed() <-chan struct{} {
	return s.subscribed
}

// Terminated is closed after the first OnError or OnComplete.
func (s *Subscriber[T]) Terminated() <-chan struct{} {
	return s.terminated
}

// Subscription returns the subscription from the first OnSubscribe.
func (s *Subscriber[T]) Subscription() dflow.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// Items returns a copy of the items received so far.
func (s *Subscriber[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Errors returns a copy of the errors received so far.
func (s *Subscriber[T]) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.errs)
}

// Completions returns the number of OnComplete calls.
func (s *Subscriber[T]) Completions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completions
}

// Subscribes returns the number of OnSubscribe calls.
func (s *Subscriber[T]) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

// ProtocolViolations returns the number of callbacks that overlapped another callback
// plus the number of callbacks received after a terminal signal.
func (s *Subscriber[T]) ProtocolViolations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.overlaps.Load()) + s.afterTerm
}
