package rquic_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/radar/internal/rtest"
	"github.com/gordian-engine/radar/rlink"
	"github.com/gordian-engine/radar/rquic"
	"github.com/stretchr/testify/require"
)

// QUIC handshakes and beacon rounds take longer than the usual "soon".
const linkTimeout = 5 * time.Second

var (
	lowID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	highID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

type linkPair struct {
	Low, High     *rquic.Link
	LowEv, HighEv chan rlink.Event
	LowEP, HighEP rlink.EndpointID
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	uc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	return uc
}

// newLinkPair starts two links whose beacons are aimed directly at each other.
func newLinkPair(t *testing.T, ctx context.Context, invite time.Duration) *linkPair {
	t.Helper()

	lowBeacon := listenLoopback(t)
	highBeacon := listenLoopback(t)

	newLink := func(id uuid.UUID, own, other *net.UDPConn) *rquic.Link {
		l, err := rquic.NewLink(rtest.NewLogger(t).With("id", id.String()), rquic.Config{
			InstanceID: id,

			QUICConn:      listenLoopback(t),
			BeaconConn:    own,
			BeaconTargets: []net.Addr{other.LocalAddr()},

			BeaconInterval: 20 * time.Millisecond,
			LostAfter:      time.Second,
			InviteTimeout:  invite,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		return l
	}

	p := &linkPair{
		Low:    newLink(lowID, lowBeacon, highBeacon),
		High:   newLink(highID, highBeacon, lowBeacon),
		LowEv:  make(chan rlink.Event, 16),
		HighEv: make(chan rlink.Event, 16),
	}
	p.LowEP = p.Low.Endpoint()
	p.HighEP = p.High.Endpoint()

	require.NoError(t, p.Low.Start(ctx, p.LowEv))
	require.NoError(t, p.High.Start(ctx, p.HighEv))

	return p
}

// nextEvent returns the next event of the given kind,
// skipping any other kinds.
func nextEvent(t *testing.T, ch <-chan rlink.Event, kind rlink.EventKind) rlink.Event {
	t.Helper()

	timer := time.NewTimer(linkTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timer.C:
			t.Fatalf("no %s event within %s", kind, linkTimeout)
		}
	}
}

func TestLink_sessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newLinkPair(t, ctx, linkTimeout)

	require.Equal(t, p.HighEP, nextEvent(t, p.LowEv, rlink.Discovered).Endpoint)
	require.Equal(t, p.LowEP, nextEvent(t, p.HighEv, rlink.Discovered).Endpoint)

	// The higher ID waits; the lower ID dials.
	p.High.Connect(p.LowEP)
	p.Low.Connect(p.HighEP)

	require.Equal(t, p.HighEP, nextEvent(t, p.LowEv, rlink.ConnectSucceeded).Endpoint)
	require.Equal(t, p.LowEP, nextEvent(t, p.HighEv, rlink.ConnectSucceeded).Endpoint)

	p.Low.DiscoverServices(p.HighEP)
	p.High.DiscoverServices(p.LowEP)
	_ = nextEvent(t, p.LowEv, rlink.ServicesBound)
	_ = nextEvent(t, p.HighEv, rlink.ServicesBound)

	require.NoError(t, p.Low.Send(p.HighEP, []byte("from low")))
	ev := nextEvent(t, p.HighEv, rlink.DataReceived)
	require.Equal(t, p.LowEP, ev.Endpoint)
	require.Equal(t, []byte("from low"), ev.Data)

	require.NoError(t, p.High.Send(p.LowEP, []byte("from high")))
	ev = nextEvent(t, p.LowEv, rlink.DataReceived)
	require.Equal(t, p.HighEP, ev.Endpoint)
	require.Equal(t, []byte("from high"), ev.Data)

	// A local disconnect is reported to the remote side only.
	p.Low.Disconnect(p.HighEP)
	require.Equal(t, p.LowEP, nextEvent(t, p.HighEv, rlink.Disconnected).Endpoint)

	require.ErrorIs(t, p.Low.Send(p.HighEP, []byte("x")), rlink.ErrNotWritable)
}

func TestLink_Send_doesNotBlockOnSlowReader(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newLinkPair(t, ctx, linkTimeout)

	_ = nextEvent(t, p.LowEv, rlink.Discovered)
	_ = nextEvent(t, p.HighEv, rlink.Discovered)
	p.High.Connect(p.LowEP)
	p.Low.Connect(p.HighEP)
	_ = nextEvent(t, p.LowEv, rlink.ConnectSucceeded)
	_ = nextEvent(t, p.HighEv, rlink.ConnectSucceeded)

	// High's events are never drained from here on,
	// so its read loop stalls and the stream window fills.
	payload := make([]byte, 1024)
	start := time.Now()
	for range 300 {
		require.NoError(t, p.Low.Send(p.HighEP, payload))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestLink_inviteTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newLinkPair(t, ctx, 50*time.Millisecond)

	_ = nextEvent(t, p.HighEv, rlink.Discovered)

	// The low side never dials, so the high side gives up.
	p.High.Connect(p.LowEP)
	ev := nextEvent(t, p.HighEv, rlink.ConnectFailed)
	require.Equal(t, p.LowEP, ev.Endpoint)
	require.Error(t, ev.Err)
}

func TestLink_unknownEndpoint(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newLinkPair(t, ctx, linkTimeout)

	require.ErrorIs(t, p.Low.Send("nobody", []byte("x")), rlink.ErrUnknownEndpoint)

	p.Low.Connect("nobody")
	ev := nextEvent(t, p.LowEv, rlink.ConnectFailed)
	require.Equal(t, rlink.EndpointID("nobody"), ev.Endpoint)
	require.ErrorIs(t, ev.Err, rlink.ErrUnknownEndpoint)
}

func TestLink_pauseAndRescan(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newLinkPair(t, ctx, linkTimeout)
	_ = nextEvent(t, p.LowEv, rlink.Discovered)

	p.Low.PauseScan()
	p.Low.Scan()

	// Scan re-reports endpoints that are still announcing.
	require.Equal(t, p.HighEP, nextEvent(t, p.LowEv, rlink.Discovered).Endpoint)
}
