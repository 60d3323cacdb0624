package rlink

import "fmt"

// EventKind identifies the variant held in an [Event].
type EventKind uint8

const (
	// An endpoint advertising the service was observed.
	// Links may report the same endpoint repeatedly.
	Discovered EventKind = iota + 1

	// A previously discovered endpoint is no longer observed.
	Lost

	// A connection attempt from [Link.Connect] succeeded.
	ConnectSucceeded

	// A connection attempt from [Link.Connect] failed.
	// Event.Err may hold the cause.
	ConnectFailed

	// An established connection dropped.
	Disconnected

	// [Link.DiscoverServices] completed
	// and inbound payloads are now being delivered.
	ServicesBound

	// A payload arrived from the endpoint.
	DataReceived
)

func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "Discovered"
	case Lost:
		return "Lost"
	case ConnectSucceeded:
		return "ConnectSucceeded"
	case ConnectFailed:
		return "ConnectFailed"
	case Disconnected:
		return "Disconnected"
	case ServicesBound:
		return "ServicesBound"
	case DataReceived:
		return "DataReceived"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a single transport callback, serialized for the kernel.
type Event struct {
	Kind     EventKind
	Endpoint EndpointID

	// Payload, only set for DataReceived.
	Data []byte

	// Optional cause for ConnectFailed and Disconnected.
	Err error
}
