package rtoken_test

import (
	"testing"

	"github.com/gordian-engine/radar/rtoken"
	"github.com/stretchr/testify/require"
)

func TestToken_copiesInput(t *testing.T) {
	t.Parallel()

	b := []byte("abc")
	tok := rtoken.New(b)
	b[0] = 'x'

	require.True(t, tok.EqualBytes([]byte("abc")))

	out := tok.Bytes()
	out[0] = 'y'
	require.True(t, tok.EqualBytes([]byte("abc")))
}

func TestToken_keyMatchesEquality(t *testing.T) {
	t.Parallel()

	a := rtoken.New([]byte{1, 2, 3})
	b := rtoken.New([]byte{1, 2, 3})
	c := rtoken.New([]byte{1, 2, 4})

	require.True(t, a.Equal(b))
	require.Equal(t, a.Key(), b.Key())

	require.False(t, a.Equal(c))
	require.NotEqual(t, a.Key(), c.Key())

	require.True(t, a.Key().Token().Equal(a))
}

func TestToken_zero(t *testing.T) {
	t.Parallel()

	var tok rtoken.Token
	require.True(t, tok.IsZero())
	require.Zero(t, tok.Len())
	require.False(t, rtoken.New([]byte{0}).IsZero())
}
