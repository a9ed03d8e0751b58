package dflow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gordian-engine/dflow"
	"github.com/gordian-engine/dflow/internal/dtest"
	"github.com/stretchr/testify/require"
)

// collector gathers items delivered to a consumer's OnItem callback.
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

func (c *collector[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func TestConsumer_consumesUpToLimit(t *testing.T) {
	t.Parallel()

	items := []string{"1", "x", "2", "x", "3", "x"}

	for _, tc := range []struct {
		name  string
		limit int64
		batch int64
		want  []string
	}{
		{name: "all items one at a time", limit: 6, want: items},
		{name: "only one", limit: 1, want: items[:1]},
		{name: "batched", limit: 4, batch: 3, want: items[:4]},
		{name: "limit beyond available", limit: 10, batch: 4, want: items},
		{name: "unbounded", limit: dflow.Unbounded, batch: dflow.Unbounded, want: items},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p := newPublisher[string](t, ctx, dflow.PublisherConfig{})

			var got collector[string]
			c := dflow.NewConsumer(dflow.ConsumerConfig[string]{
				Limit:  tc.limit,
				Batch:  tc.batch,
				OnItem: got.add,
			})
			p.Subscribe(c)

			require.Equal(t, 1, p.NumberOfSubscribers())
			submitAll(t, p, items)
			p.Close()

			dtest.ReceiveSoon(t, c.Done())
			require.NoError(t, c.Err())
			require.Equal(t, tc.want, got.Items())
			require.Equal(t, int64(len(tc.want)), c.Consumed())
		})
	}
}

func TestConsumer_error(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPublisher[int](t, ctx, dflow.PublisherConfig{})

	c := dflow.NewConsumer(dflow.ConsumerConfig[int]{Limit: 3})
	p.Subscribe(c)

	dtest.NotSending(t, c.Done())
	require.NoError(t, c.Err())

	p.CloseExceptionally(context.DeadlineExceeded)

	dtest.ReceiveSoon(t, c.Done())
	require.ErrorIs(t, c.Err(), context.DeadlineExceeded)
	require.Zero(t, c.Consumed())
}

func TestConsumer_cancelsAtLimit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPublisher[int](t, ctx, dflow.PublisherConfig{})

	c := dflow.NewConsumer(dflow.ConsumerConfig[int]{Limit: 2, Batch: 2})
	p.Subscribe(c)

	submitAll(t, p, []int{1, 2, 3})

	// Done without the publisher closing.
	dtest.ReceiveSoon(t, c.Done())
	require.NoError(t, c.Err())
	require.Equal(t, int64(2), c.Consumed())

	require.Eventually(t, func() bool {
		return p.NumberOfSubscribers() == 0
	}, eventuallyWait, eventuallyTick)
	require.False(t, p.IsClosed())
}

func TestConsumer_doubleSubscription(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPublisher[int](t, ctx, dflow.PublisherConfig{})

	var got collector[int]
	c := dflow.NewConsumer(dflow.ConsumerConfig[int]{Limit: 3, OnItem: got.add})
	p.Subscribe(c)
	p.Subscribe(c)

	other := newPublisher[int](t, ctx, dflow.PublisherConfig{})
	other.Subscribe(c)

	submitAll(t, other, []int{100})
	submitAll(t, p, []int{1, 2, 3})

	dtest.ReceiveSoon(t, c.Done())
	require.NoError(t, c.Err())

	require.Equal(t, []int{1, 2, 3}, got.Items())
	require.Equal(t, int64(3), c.Consumed())
}

func TestNewConsumer_invalidConfig(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_ = dflow.NewConsumer(dflow.ConsumerConfig[int]{})
	})
	require.Panics(t, func() {
		_ = dflow.NewConsumer(dflow.ConsumerConfig[int]{Limit: 1, Batch: -1})
	})
}
