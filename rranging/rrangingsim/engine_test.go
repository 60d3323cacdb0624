package rrangingsim_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/gordian-engine/radar/internal/rtest"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rranging/rrangingsim"
	"github.com/gordian-engine/radar/rtoken"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, ctx context.Context, cfg rrangingsim.Config) *rrangingsim.Engine {
	t.Helper()

	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Millisecond
	}
	cfg.RNG = rand.New(rand.NewPCG(1, 2))

	e, err := rrangingsim.New(ctx, rtest.NewLogger(t), cfg)
	require.NoError(t, err)
	t.Cleanup(e.Wait)
	return e
}

func TestEngine_localTokenAfterStartDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEngine(t, ctx, rrangingsim.Config{StartDelay: 20 * time.Millisecond})

	_, ok := e.LocalToken()
	require.False(t, ok)

	require.Eventually(t, func() bool {
		_, ok := e.LocalToken()
		return ok
	}, time.Second, 5*time.Millisecond)

	defer cancel()
}

func TestEngine_updatesConfiguredPeer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEngine(t, ctx, rrangingsim.Config{MaxDistance: 3})

	peer := rtoken.New([]byte("peer"))
	require.NoError(t, e.Configure(peer))
	require.NoError(t, e.Configure(peer))

	for range 5 {
		ev := rtest.ReceiveSoon(t, e.Events())
		require.Equal(t, rranging.Updated, ev.Kind)
		require.True(t, ev.Token.Equal(peer))
		require.GreaterOrEqual(t, ev.Distance, 0.0)
		require.LessOrEqual(t, ev.Distance, 3.0)
	}

	defer cancel()
}

func TestEngine_Remove(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEngine(t, ctx, rrangingsim.Config{})

	peer := rtoken.New([]byte("peer"))
	require.NoError(t, e.Configure(peer))
	e.Remove(peer, rranging.ReasonPeerEnded)

	// An update from a tick before the removal may still be in flight.
	var ev rranging.Event
	for range 3 {
		ev = rtest.ReceiveSoon(t, e.Events())
		if ev.Kind == rranging.Removed {
			break
		}
	}
	require.Equal(t, rranging.Removed, ev.Kind)
	require.Equal(t, rranging.ReasonPeerEnded, ev.Reason)

	// Removing an unknown token produces nothing.
	e.Remove(rtoken.New([]byte("other")), rranging.ReasonTimeout)
	rtest.NotSendingSoon(t, e.Events())

	defer cancel()
}

func TestEngine_Configure_rejectsEmptyToken(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEngine(t, ctx, rrangingsim.Config{})
	require.Error(t, e.Configure(rtoken.Token{}))

	defer cancel()
}
