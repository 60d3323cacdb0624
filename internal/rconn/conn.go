package rconn

import (
	"time"

	"github.com/gordian-engine/radar/rlink"
	"github.com/gordian-engine/radar/rtoken"
)

// Handle addresses a record in a [Set].
// Handles are reused after removal,
// so a stale Handle must never be held across kernel events.
type Handle uint32

// PeerConnection is the kernel's record of one candidate remote endpoint.
type PeerConnection struct {
	Handle   Handle
	Endpoint rlink.EndpointID

	State State

	// Consecutive failed attempts since the last successful connect.
	AttemptCount int

	Policy Policy

	// Whether the local token has been sent since the channel was bound.
	TokenSent bool

	// Zero until a token arrives on this connection.
	RemoteToken     rtoken.Token
	TokenReceivedAt time.Time
}

// RecordFailure counts a failed connect or a dropped connection.
// It reports whether another attempt is allowed under the record's policy.
// When it returns false the record has moved to [Abandoned].
func (pc *PeerConnection) RecordFailure() (retry bool) {
	pc.AttemptCount++
	pc.TokenSent = false

	if pc.AttemptCount < pc.Policy.MaxAttempts {
		pc.State = Disconnected
		return true
	}

	pc.State = Abandoned
	return false
}

// ResetAttempts clears the failure count after a successful connect.
func (pc *PeerConnection) ResetAttempts() {
	pc.AttemptCount = 0
}
