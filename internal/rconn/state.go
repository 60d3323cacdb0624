package rconn

import "fmt"

// State is the position of a [PeerConnection] in its lifecycle.
type State uint8

const (
	// Invalid is the zero value and never appears on a live record.
	Invalid State = iota

	Discovered
	Connecting
	Connected

	// The token channel on the remote endpoint has been located.
	ServicesBound

	// Inbound payloads are being delivered
	// and the local token has been offered.
	Exchanging

	// A remote token was received and handed to the ranging engine.
	Ranging

	Disconnected

	// Terminal. An abandoned record is removed from the [Set].
	Abandoned
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "Discovered"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ServicesBound:
		return "ServicesBound"
	case Exchanging:
		return "Exchanging"
	case Ranging:
		return "Ranging"
	case Disconnected:
		return "Disconnected"
	case Abandoned:
		return "Abandoned"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// IsLinked reports whether the endpoint has an established connection
// in state s.
func (s State) IsLinked() bool {
	switch s {
	case Connected, ServicesBound, Exchanging, Ranging:
		return true
	}
	return false
}

// CanExchange reports whether tokens may be sent or received in state s.
func (s State) CanExchange() bool {
	return s == Exchanging || s == Ranging
}
