package rtoken

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Codec converts tokens to and from wire payloads.
//
// The token format is owned by the ranging engine;
// the core only needs to round-trip tokens
// and to detect payloads that are not tokens at all.
type Codec interface {
	Encode(Token) ([]byte, error)
	Decode([]byte) (Token, error)
}

// MaxTokenSize bounds the token body accepted by [EnvelopeCodec].
// Real discovery tokens are a few hundred bytes at most.
const MaxTokenSize = 1024

// EnvelopeVersion is the only envelope version [EnvelopeCodec] produces and accepts.
const EnvelopeVersion = 1

// Field numbers for the envelope message.
const (
	fieldToken   protowire.Number = 1
	fieldVersion protowire.Number = 2
)

// EnvelopeCodec wraps the raw token in a small protobuf message:
//
//	message Envelope {
//	  bytes  token   = 1;
//	  uint32 version = 2;
//	}
//
// The envelope lets a receiver tell a token apart from stray bytes
// that happen to arrive on the same characteristic or stream.
type EnvelopeCodec struct{}

var _ Codec = EnvelopeCodec{}

func (EnvelopeCodec) Encode(t Token) ([]byte, error) {
	if t.IsZero() {
		return nil, errors.New("cannot encode empty token")
	}
	if t.Len() > MaxTokenSize {
		return nil, fmt.Errorf("token size %d exceeds maximum %d", t.Len(), MaxTokenSize)
	}

	b := make([]byte, 0, t.Len()+8)
	b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(t.b))
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, EnvelopeVersion)
	return b, nil
}

func (EnvelopeCodec) Decode(b []byte) (Token, error) {
	var (
		tok         []byte
		haveTok     bool
		version     uint64
		haveVersion bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Token{}, DecodeError{Reason: "malformed tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		switch {
		case num == fieldToken && typ == protowire.BytesType:
			if haveTok {
				return Token{}, DecodeError{Reason: "duplicate token field"}
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Token{}, DecodeError{Reason: "malformed token field", Err: protowire.ParseError(n)}
			}
			tok, haveTok = v, true
			b = b[n:]

		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Token{}, DecodeError{Reason: "malformed version field", Err: protowire.ParseError(n)}
			}
			version, haveVersion = v, true
			b = b[n:]

		default:
			// Unknown fields are not tolerated:
			// a token payload is small and fully specified.
			return Token{}, DecodeError{Reason: fmt.Sprintf("unexpected field %d (wire type %d)", num, typ)}
		}
	}

	if !haveVersion {
		return Token{}, DecodeError{Reason: "missing version"}
	}
	if version != EnvelopeVersion {
		return Token{}, DecodeError{Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	if !haveTok || len(tok) == 0 {
		return Token{}, DecodeError{Reason: "missing token"}
	}
	if len(tok) > MaxTokenSize {
		return Token{}, DecodeError{Reason: fmt.Sprintf("token size %d exceeds maximum %d", len(tok), MaxTokenSize)}
	}

	return New(tok), nil
}
