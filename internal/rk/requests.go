package rk

import (
	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/rpubsub"
	"github.com/gordian-engine/radar/rtable"
)

// snapshotRequest asks the kernel for a copy of the peer table.
// Resp must be 1-buffered so the kernel never blocks on a departed caller.
type snapshotRequest struct {
	Resp chan rtable.Snapshot
}

// connectionsRequest asks the kernel for copies of every live connection record.
type connectionsRequest struct {
	Resp chan []rconn.PeerConnection
}

// subscribeRequest asks for the peer table and the change stream
// positioned just after that table state.
type subscribeRequest struct {
	Resp chan Subscription
}

// Subscription is a consistent starting point for following the peer table:
// applying every change from Changes onward to Snapshot
// tracks the kernel's table exactly.
type Subscription struct {
	Snapshot rtable.Snapshot
	Changes  *rpubsub.Stream[rtable.Change]
}
