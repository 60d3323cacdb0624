package rtable_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
	"github.com/stretchr/testify/require"
)

func TestTable_Upsert(t *testing.T) {
	t.Parallel()

	tbl := rtable.New()
	tok := rtoken.New([]byte("peer-a"))
	now := time.Now()

	require.True(t, tbl.Upsert(rtable.Peer{Token: tok, Distance: 1.5, UpdatedAt: now}))
	require.Equal(t, 1, tbl.Len())

	// Same token replaces rather than duplicates.
	require.False(t, tbl.Upsert(rtable.Peer{
		Token:     rtoken.New([]byte("peer-a")),
		Distance:  0.8,
		Direction: &rranging.Direction{X: 1},
		UpdatedAt: now.Add(time.Second),
	}))
	require.Equal(t, 1, tbl.Len())

	p, ok := tbl.Get(tok)
	require.True(t, ok)
	require.Equal(t, 0.8, p.Distance)
	require.Equal(t, &rranging.Direction{X: 1}, p.Direction)
}

func TestTable_Upsert_panicsOnEmptyToken(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		rtable.New().Upsert(rtable.Peer{Distance: 1})
	})
}

func TestTable_Remove(t *testing.T) {
	t.Parallel()

	tbl := rtable.New()
	a := rtoken.New([]byte("a"))
	b := rtoken.New([]byte("b"))

	// Absent token is a no-op.
	require.False(t, tbl.Remove(a))

	tbl.Upsert(rtable.Peer{Token: a, Distance: 1})
	tbl.Upsert(rtable.Peer{Token: b, Distance: 2})

	require.True(t, tbl.Remove(a))
	require.False(t, tbl.Remove(a))

	_, ok := tbl.Get(a)
	require.False(t, ok)
	_, ok = tbl.Get(b)
	require.True(t, ok)
}

func TestTable_Snapshot_isDeepCopy(t *testing.T) {
	t.Parallel()

	tbl := rtable.New()
	tok := rtoken.New([]byte("a"))
	dir := &rranging.Direction{X: 0, Y: 1, Z: 0}
	tbl.Upsert(rtable.Peer{Token: tok, Distance: 3, Direction: dir})

	// Mutating the caller's direction after upsert does not leak in.
	dir.Y = 5

	s := tbl.Snapshot()
	require.Len(t, s, 1)
	require.Equal(t, 1.0, s[0].Direction.Y)

	s[0].Direction.Y = 9
	s[0].Distance = 100

	p, ok := tbl.Get(tok)
	require.True(t, ok)
	require.Equal(t, 1.0, p.Direction.Y)
	require.Equal(t, 3.0, p.Distance)
}

func TestSnapshot_orderedAndFind(t *testing.T) {
	t.Parallel()

	tbl := rtable.New()
	for _, s := range []string{"c", "a", "b"} {
		tbl.Upsert(rtable.Peer{Token: rtoken.New([]byte(s))})
	}

	s := tbl.Snapshot()
	require.Len(t, s, 3)
	require.True(t, s[0].Token.EqualBytes([]byte("a")))
	require.True(t, s[1].Token.EqualBytes([]byte("b")))
	require.True(t, s[2].Token.EqualBytes([]byte("c")))

	_, ok := s.Find(rtoken.New([]byte("b")))
	require.True(t, ok)
	_, ok = s.Find(rtoken.New([]byte("z")))
	require.False(t, ok)
}
