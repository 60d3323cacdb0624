// Package rlink defines the transport link contract used by the radar core.
//
// A [Link] discovers remote endpoints advertising the radar service,
// establishes connections to them, and moves opaque payloads.
// Every outcome of a Link operation is reported asynchronously as an [Event]
// on the channel given to [Link.Start];
// the core never blocks waiting on the radio.
package rlink

import (
	"context"
	"errors"
)

const (
	// DefaultServiceUUID is the GATT service both the advertising
	// and the scanning side of a BLE link filter on.
	DefaultServiceUUID = "0000180d-0000-1000-8000-00805f9b34fb"

	// DefaultCharacteristicUUID is the characteristic carrying token payloads
	// inside [DefaultServiceUUID].
	DefaultCharacteristicUUID = "00002a37-0000-1000-8000-00805f9b34fb"

	// DefaultServiceType is the service name used by mesh session links.
	DefaultServiceType = "radar"
)

// EndpointID is the transport-level handle of a remote endpoint.
// It is not a ranging identity:
// the same physical device may show up under a new EndpointID
// after a transport restart.
type EndpointID string

// Link is the transport abstraction the kernel drives.
//
// Start must be called exactly once before any other method.
// All other methods except Close are non-blocking;
// their results are delivered later as events.
// Implementations must deliver events one at a time on the channel passed to Start,
// and must stop sending once the Start context is canceled.
type Link interface {
	// Start begins advertising and scanning.
	// Events are sent on the given channel until ctx is canceled.
	Start(ctx context.Context, events chan<- Event) error

	// Scan (re-)issues a scan for endpoints advertising the service.
	// Calling Scan while already scanning is allowed
	// and is used to recover from scan stalls.
	Scan()

	// PauseScan stops active scanning until the next call to Scan.
	PauseScan()

	// Connect begins a connection attempt to the endpoint.
	// The result is a [ConnectSucceeded] or [ConnectFailed] event.
	Connect(EndpointID)

	// DiscoverServices locates the token channel on a connected endpoint
	// and subscribes to inbound payloads.
	// The result is a [ServicesBound] event,
	// or a [Disconnected] event if the endpoint turned out to be unusable.
	DiscoverServices(EndpointID)

	// Send writes one payload to the endpoint.
	// It returns [ErrNotWritable] if the channel to the endpoint
	// is not currently writable.
	// Delivery is fire-and-forget.
	Send(EndpointID, []byte) error

	// Disconnect drops any connection to the endpoint.
	// A [Disconnected] event is not guaranteed to follow.
	Disconnect(EndpointID)

	// Close stops advertising and scanning and drops every connection.
	Close() error
}

var (
	// ErrNotWritable is returned from [Link.Send]
	// when the endpoint has no writable channel.
	ErrNotWritable = errors.New("endpoint channel not writable")

	// ErrUnknownEndpoint is returned from [Link.Send]
	// for an endpoint the link has no record of.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)
