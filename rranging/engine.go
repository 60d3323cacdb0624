// Package rranging defines the ranging engine the radar core depends on.
//
// The engine is an external capability:
// given a peer's discovery token it produces a continuous sequence of
// distance and direction measurements for that peer.
// The core configures the engine and consumes its [Event] sequence,
// but never looks inside the measurement process.
package rranging

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/radar/rtoken"
)

// Engine is the ranging capability.
//
// Implementations are free to run their own goroutines,
// but the channel returned by Events is the only way
// measurements reach the core.
type Engine interface {
	// LocalToken returns the token identifying this device for ranging.
	// The second result is false until the engine has a token,
	// which is the case while ranging is inactive.
	LocalToken() (rtoken.Token, bool)

	// Configure starts ranging against the peer identified by the token.
	// Configuring a token that already has an active session is a no-op.
	// Configuring a different token starts a concurrent session.
	Configure(rtoken.Token) error

	// Events returns the engine's measurement sequence.
	// The sequence is unbounded and cannot be restarted;
	// every call returns the same channel.
	Events() <-chan Event

	// Available reports why ranging cannot run, or nil when it can.
	// The error is informational; the core keeps running either way.
	Available() error
}

// ErrUnsupported is returned from [Engine.Available]
// on hardware without the required ranging capability.
var ErrUnsupported = errors.New("ranging not supported on this device")

// EventKind distinguishes the two event variants.
type EventKind uint8

const (
	// Updated carries a fresh measurement for a peer.
	Updated EventKind = iota + 1

	// Removed signals that the engine lost the peer.
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Updated:
		return "Updated"
	case Removed:
		return "Removed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Direction is a 3D direction vector toward the peer,
// in the local device's coordinate space.
// It is close to unit length but not guaranteed to be normalized.
type Direction struct {
	X, Y, Z float64
}

// RemovalReason explains a [Removed] event.
type RemovalReason uint8

const (
	ReasonUnknown RemovalReason = iota

	// The peer stopped responding.
	ReasonTimeout

	// The peer ended its session.
	ReasonPeerEnded
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonPeerEnded:
		return "peer_ended"
	default:
		return "unknown"
	}
}

// Event is one item in the engine's measurement sequence.
type Event struct {
	Kind  EventKind
	Token rtoken.Token

	// Distance in meters. Only meaningful for Updated.
	Distance float64

	// Direction is nil when the engine cannot currently resolve direction.
	// Only meaningful for Updated.
	Direction *Direction

	// Only meaningful for Removed.
	Reason RemovalReason
}
