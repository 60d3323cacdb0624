package rpubsub

import "context"

// Stream is one node in a linked list of published values.
//
// Ready is closed once Val and Next are set.
// A reader that stops advancing keeps every later node reachable,
// so readers must keep up or drop their reference.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an empty stream head.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish sets s's value, links a fresh node as s.Next,
// and closes s.Ready.
//
// Publish panics if called twice on the same node.
func (s *Stream[T]) Publish(t T) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
}

// Wait blocks until s is published or ctx is done.
// On success it returns the published value and the next node.
func (s *Stream[T]) Wait(ctx context.Context) (T, *Stream[T], error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, s, context.Cause(ctx)
	case <-s.Ready:
		return s.Val, s.Next, nil
	}
}

// Each calls fn for every value published from s onward,
// until ctx is done or fn returns false.
// It returns the first unconsumed node,
// so a caller can resume later without missing values.
func (s *Stream[T]) Each(ctx context.Context, fn func(T) bool) *Stream[T] {
	for {
		v, next, err := s.Wait(ctx)
		if err != nil {
			return s
		}
		if !fn(v) {
			return next
		}
		s = next
	}
}
