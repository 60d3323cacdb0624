package rtoken_test

import (
	"testing"

	"github.com/gordian-engine/radar/internal/rtest"
	"github.com/gordian-engine/radar/rtoken"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelopeCodec_roundTrip(t *testing.T) {
	t.Parallel()

	tok := rtoken.New(rtest.RandomDataForTest(t, 96))

	var c rtoken.EnvelopeCodec
	b, err := c.Encode(tok)
	require.NoError(t, err)

	got, err := c.Decode(b)
	require.NoError(t, err)
	require.True(t, tok.Equal(got))
}

func TestEnvelopeCodec_Encode_rejects(t *testing.T) {
	t.Parallel()

	var c rtoken.EnvelopeCodec

	_, err := c.Encode(rtoken.Token{})
	require.Error(t, err)

	_, err = c.Encode(rtoken.New(make([]byte, rtoken.MaxTokenSize+1)))
	require.Error(t, err)
}

func TestEnvelopeCodec_Decode_malformed(t *testing.T) {
	t.Parallel()

	validBody := func(version uint64) []byte {
		b := protowire.AppendTag(nil, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte("tok"))
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		return protowire.AppendVarint(b, version)
	}

	for name, payload := range map[string][]byte{
		"empty":            nil,
		"garbage":          []byte("not a token at all"),
		"truncated":        validBody(1)[:4],
		"wrong version":    validBody(2),
		"trailing garbage": append(validBody(1), 0xff),
		"missing version": protowire.AppendBytes(
			protowire.AppendTag(nil, 1, protowire.BytesType), []byte("tok"),
		),
		"empty token": protowire.AppendVarint(
			protowire.AppendTag(
				protowire.AppendBytes(protowire.AppendTag(nil, 1, protowire.BytesType), nil),
				2, protowire.VarintType,
			),
			1,
		),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var c rtoken.EnvelopeCodec
			_, err := c.Decode(payload)
			require.Error(t, err)

			var de rtoken.DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}
