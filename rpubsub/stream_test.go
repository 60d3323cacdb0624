package rpubsub_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/radar/internal/rtest"
	"github.com/gordian-engine/radar/rpubsub"
	"github.com/stretchr/testify/require"
)

func TestStream_Publish_panicsOnCalledTwice(t *testing.T) {
	t.Parallel()

	s := rpubsub.NewStream[int]()
	s.Publish(1)

	require.Panics(t, func() {
		s.Publish(1)
	})
}

func TestStream_Wait(t *testing.T) {
	t.Parallel()

	s := rpubsub.NewStream[string]()
	rtest.NotSending(t, s.Ready)

	s.Publish("a")
	rtest.IsSending(t, s.Ready)

	v, next, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", v)
	require.Same(t, s.Next, next)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, same, err := next.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Same(t, next, same)
}

func TestStream_Each(t *testing.T) {
	t.Parallel()

	head := rpubsub.NewStream[int]()
	s := head
	for i := range 4 {
		s.Publish(i)
		s = s.Next
	}

	var got []int
	rest := head.Each(context.Background(), func(v int) bool {
		got = append(got, v)
		return v < 2
	})
	require.Equal(t, []int{0, 1, 2}, got)

	v, _, err := rest.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestStream_Each_stopsOnContext(t *testing.T) {
	t.Parallel()

	head := rpubsub.NewStream[int]()
	head.Publish(7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *rpubsub.Stream[int], 1)
	go func() {
		done <- head.Each(ctx, func(int) bool { return true })
	}()

	cancel()
	rest := rtest.ReceiveSoon(t, done)
	require.Same(t, head.Next, rest)
}
