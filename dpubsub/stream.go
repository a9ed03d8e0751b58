package dpubsub

// Stream is a linked list of event-driven values.
// The list has a single writer and many readers.
// Readers can each consume the list at their own pace.
//
// If readers do not actively consume the list,
// the node they observe will never be garbage collected,
// which is a memory leak.
// Readers that are done with the list must drop their reference.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an initialized pubsub stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish assigns s's value and initializes s.Next.
// Then s.Ready is closed, notifying any observers that
// s.Val can now be safely read.
//
// If Publish is called twice for the same s, Publish panics.
// Callers with multiple writing goroutines must serialize calls,
// and must publish to the returned tail, which is s.Next.
func (s *Stream[T]) Publish(t T) (tail *Stream[T]) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
	return s.Next
}

// IsReady reports whether s has been published,
// without blocking.
func (s *Stream[T]) IsReady() bool {
	select {
	case <-s.Ready:
		return true
	default:
		return false
	}
}

// Cursor is one reader's position in a [Stream].
// It counts how many values it has passed,
// so that a writer can compare against its own count
// to find how far behind the reader is.
//
// A Cursor is owned by a single goroutine.
type Cursor[T any] struct {
	s   *Stream[T]
	pos uint64
}

// NewCursor returns a cursor positioned at s,
// where pos is the number of values published before s.
func NewCursor[T any](s *Stream[T], pos uint64) *Cursor[T] {
	return &Cursor[T]{s: s, pos: pos}
}

// Ready returns the channel that is closed
// once the value under the cursor is available.
func (c *Cursor[T]) Ready() <-chan struct{} {
	return c.s.Ready
}

// TryNext returns the value under the cursor and advances,
// if that value has been published.
func (c *Cursor[T]) TryNext() (T, bool) {
	if !c.s.IsReady() {
		var zero T
		return zero, false
	}

	v := c.s.Val
	c.s = c.s.Next
	c.pos++
	return v, true
}

// Pos is the number of values published before the cursor's current node.
func (c *Cursor[T]) Pos() uint64 {
	return c.pos
}

// Release drops the cursor's reference into the stream,
// allowing already consumed nodes to be collected.
// The cursor must not be used afterward.
func (c *Cursor[T]) Release() {
	c.s = nil
}
