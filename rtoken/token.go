// Package rtoken contains the discovery token exchanged between nearby peers.
//
// A [Token] is an opaque identity blob produced by the ranging engine.
// The core never interprets a token's contents;
// it only compares tokens for equality and moves them across a transport link
// using a [Codec].
package rtoken

import (
	"bytes"
	"encoding/hex"
)

// Token is an immutable, opaque discovery token.
// The zero value is the empty token, which is never valid on the wire.
type Token struct {
	b string
}

// New returns a Token holding a copy of b.
func New(b []byte) Token {
	return Token{b: string(b)}
}

// Bytes returns a copy of the token's contents.
func (t Token) Bytes() []byte {
	return []byte(t.b)
}

// Len reports the size of the token in bytes.
func (t Token) Len() int {
	return len(t.b)
}

// IsZero reports whether t is the empty token.
func (t Token) IsZero() bool {
	return t.b == ""
}

// Equal reports whether t and o hold the same bytes.
func (t Token) Equal(o Token) bool {
	return t.b == o.b
}

// EqualBytes reports whether t holds exactly b.
func (t Token) EqualBytes(b []byte) bool {
	return bytes.Equal([]byte(t.b), b)
}

// Key returns a value suitable for use as a map key.
// Two tokens have the same key if and only if they are equal.
func (t Token) Key() Key {
	return Key(t.b)
}

// String returns a short hex prefix of the token, for logging.
func (t Token) String() string {
	const max = 6
	if len(t.b) <= max {
		return hex.EncodeToString([]byte(t.b))
	}
	return hex.EncodeToString([]byte(t.b[:max])) + "…"
}

// Hex returns the full hex encoding of the token,
// for external systems that need a stable printable identity.
func (t Token) Hex() string {
	return hex.EncodeToString([]byte(t.b))
}

// Key is the map-key form of a [Token].
// It deliberately has no ordering semantics beyond what Go gives strings.
type Key string

// Token converts k back into a Token.
func (k Key) Token() Token {
	return Token{b: string(k)}
}
