package rconn_test

import (
	"testing"

	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/rlink"
	"github.com/stretchr/testify/require"
)

func TestSet_Add_rejectsDuplicateEndpoint(t *testing.T) {
	t.Parallel()

	s := rconn.NewSet()

	pc, err := s.Add("ep-1", rconn.DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, rconn.Discovered, pc.State)
	require.Zero(t, pc.AttemptCount)

	_, err = s.Add("ep-1", rconn.DefaultPolicy())
	require.ErrorIs(t, err, rconn.ErrDuplicateEndpoint)
	require.Equal(t, 1, s.Len())
}

func TestSet_Remove_reusesSlot(t *testing.T) {
	t.Parallel()

	s := rconn.NewSet()

	a, err := s.Add("a", rconn.DefaultPolicy())
	require.NoError(t, err)
	hA := a.Handle

	b, err := s.Add("b", rconn.DefaultPolicy())
	require.NoError(t, err)
	hB := b.Handle
	require.NotEqual(t, hA, hB)

	s.Remove(hA)
	require.Nil(t, s.Get(hA))
	require.Nil(t, s.Lookup("a"))
	require.Equal(t, 1, s.Len())

	// The endpoint can be added again and gets a fresh record.
	a2, err := s.Add("a", rconn.DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, hA, a2.Handle)
	require.Zero(t, a2.AttemptCount)

	require.Equal(t, rlink.EndpointID("b"), s.Get(hB).Endpoint)
}

func TestSet_Remove_panicsOnStaleHandle(t *testing.T) {
	t.Parallel()

	s := rconn.NewSet()
	pc, err := s.Add("a", rconn.DefaultPolicy())
	require.NoError(t, err)
	h := pc.Handle
	s.Remove(h)

	require.Panics(t, func() {
		s.Remove(h)
	})
}

func TestSet_Each(t *testing.T) {
	t.Parallel()

	s := rconn.NewSet()
	for _, ep := range []rlink.EndpointID{"a", "b", "c"} {
		_, err := s.Add(ep, rconn.DefaultPolicy())
		require.NoError(t, err)
	}
	s.Remove(s.Lookup("b").Handle)

	var seen []rlink.EndpointID
	s.Each(func(pc *rconn.PeerConnection) bool {
		seen = append(seen, pc.Endpoint)
		return true
	})
	require.Equal(t, []rlink.EndpointID{"a", "c"}, seen)

	var n int
	s.Each(func(*rconn.PeerConnection) bool {
		n++
		return false
	})
	require.Equal(t, 1, n)
}

func TestPeerConnection_RecordFailure(t *testing.T) {
	t.Parallel()

	pc := rconn.PeerConnection{
		State:  rconn.Connecting,
		Policy: rconn.Policy{MaxAttempts: 3},
	}

	require.True(t, pc.RecordFailure())
	require.Equal(t, rconn.Disconnected, pc.State)
	require.True(t, pc.RecordFailure())
	require.False(t, pc.RecordFailure())
	require.Equal(t, rconn.Abandoned, pc.State)
	require.Equal(t, 3, pc.AttemptCount)
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, rconn.DefaultPolicy().Validate())

	err := rconn.Policy{MaxAttempts: 0, ScanCooldown: -1}.Validate()
	require.ErrorContains(t, err, "MaxAttempts")
	require.ErrorContains(t, err, "ScanCooldown")
}
