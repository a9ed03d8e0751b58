package dpubsub_test

import (
	"testing"

	"github.com/gordian-engine/dflow/dpubsub"
	"github.com/gordian-engine/dflow/internal/dtest"
	"github.com/stretchr/testify/require"
)

func TestStream_Publish_panicsOnCalledTwice(t *testing.T) {
	t.Parallel()

	s := dpubsub.NewStream[int]()
	s.Publish(1)

	require.Panics(t, func() {
		s.Publish(1)
	})
}

func TestStream_Publish_returnsTail(t *testing.T) {
	t.Parallel()

	s := dpubsub.NewStream[int]()
	require.False(t, s.IsReady())

	tail := s.Publish(1)
	require.True(t, s.IsReady())
	require.Same(t, s.Next, tail)
	require.False(t, tail.IsReady())

	dtest.IsSending(t, s.Ready)
	dtest.NotSending(t, tail.Ready)
}

func TestCursor_independentReaders(t *testing.T) {
	t.Parallel()

	head := dpubsub.NewStream[string]()
	a := dpubsub.NewCursor(head, 0)
	b := dpubsub.NewCursor(head, 0)

	tail := head.Publish("x")
	tail = tail.Publish("y")

	v, ok := a.TryNext()
	require.True(t, ok)
	require.Equal(t, "x", v)

	v, ok = a.TryNext()
	require.True(t, ok)
	require.Equal(t, "y", v)
	require.Equal(t, uint64(2), a.Pos())

	_, ok = a.TryNext()
	require.False(t, ok)
	dtest.NotSending(t, a.Ready())

	// b has not moved, and still observes both values.
	require.Equal(t, uint64(0), b.Pos())
	v, ok = b.TryNext()
	require.True(t, ok)
	require.Equal(t, "x", v)

	tail.Publish("z")
	dtest.IsSending(t, a.Ready())

	v, ok = a.TryNext()
	require.True(t, ok)
	require.Equal(t, "z", v)
	require.Equal(t, uint64(3), a.Pos())
}

func TestCursor_startsAtOffset(t *testing.T) {
	t.Parallel()

	head := dpubsub.NewStream[int]()
	tail := head.Publish(1).Publish(2)

	// A late reader starts at the tail and only sees later values.
	c := dpubsub.NewCursor(tail, 2)
	tail.Publish(3)

	v, ok := c.TryNext()
	require.True(t, ok)
	require.Equal(t, 3, v)
	require.Equal(t, uint64(3), c.Pos())
}
