// Package rk contains the radar kernel,
// the single goroutine that owns every connection record and the peer table.
//
// Transport callbacks, ranging measurements, timer firings
// and application commands all arrive as values on channels,
// and the kernel handles them one at a time in its main loop.
package rk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/rlink"
	"github.com/gordian-engine/radar/rpubsub"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
)

type Kernel struct {
	log *slog.Logger

	link   rlink.Link
	engine rranging.Engine
	codec  rtoken.Codec

	policyFor func(rlink.EndpointID) rconn.Policy

	rescanInterval time.Duration

	conns *rconn.Set
	table *rtable.Table

	// Tokens the kernel has handed to the engine
	// and for which no Removed event has arrived yet.
	configured map[rtoken.Key]struct{}

	// Next node to publish on.
	changes *rpubsub.Stream[rtable.Change]

	// Non-nil while active scanning is paused after a disconnect.
	cooldown      *time.Timer
	cooldownUntil time.Time

	linkEvents <-chan rlink.Event

	advertiseRequests   chan struct{}
	snapshotRequests    chan snapshotRequest
	subscribeRequests   chan subscribeRequest
	connectionsRequests chan connectionsRequest

	done chan struct{}
}

type KernelConfig struct {
	Link   rlink.Link
	Engine rranging.Engine
	Codec  rtoken.Codec

	// Channel the Link was started with.
	LinkEvents <-chan rlink.Event

	// Policy returns the retry policy for a newly discovered endpoint.
	Policy func(rlink.EndpointID) rconn.Policy

	// How often to re-issue a scan.
	RescanInterval time.Duration

	// Stream head the kernel publishes peer table changes on.
	Changes *rpubsub.Stream[rtable.Change]
}

func NewKernel(ctx context.Context, log *slog.Logger, cfg KernelConfig) *Kernel {
	if cfg.RescanInterval <= 0 {
		panic(fmt.Errorf(
			"BUG: KernelConfig.RescanInterval must be positive (got %s)", cfg.RescanInterval,
		))
	}

	k := &Kernel{
		log: log,

		link:   cfg.Link,
		engine: cfg.Engine,
		codec:  cfg.Codec,

		policyFor: cfg.Policy,

		rescanInterval: cfg.RescanInterval,

		conns: rconn.NewSet(),
		table: rtable.New(),

		configured: map[rtoken.Key]struct{}{},

		changes: cfg.Changes,

		linkEvents: cfg.LinkEvents,

		// 1-buffered so that Advertise never blocks
		// and repeated calls collapse into one.
		advertiseRequests: make(chan struct{}, 1),

		// Unbuffered because the caller blocks on these requests anyway.
		snapshotRequests:    make(chan snapshotRequest),
		subscribeRequests:   make(chan subscribeRequest),
		connectionsRequests: make(chan connectionsRequest),

		done: make(chan struct{}),
	}

	go k.mainLoop(ctx)

	return k
}

func (k *Kernel) Wait() {
	<-k.done
}

func (k *Kernel) mainLoop(ctx context.Context) {
	defer close(k.done)

	rescan := time.NewTicker(k.rescanInterval)
	defer rescan.Stop()

	for {
		var cooldownC <-chan time.Time
		if k.cooldown != nil {
			cooldownC = k.cooldown.C
		}

		select {
		case <-ctx.Done():
			k.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			k.shutdown()
			return

		case ev := <-k.linkEvents:
			k.handleLinkEvent(ev)

		case ev := <-k.engine.Events():
			k.handleRangingEvent(ev)

		case <-k.advertiseRequests:
			k.handleAdvertise()

		case <-rescan.C:
			k.handleRescanTick()

		case <-cooldownC:
			k.cooldown = nil
			k.log.Debug("Scan cooldown elapsed; resuming scan")
			k.link.Scan()

		case req := <-k.snapshotRequests:
			// Assume the response channel is buffered.
			req.Resp <- k.table.Snapshot()

		case req := <-k.subscribeRequests:
			req.Resp <- Subscription{
				Snapshot: k.table.Snapshot(),
				Changes:  k.changes,
			}

		case req := <-k.connectionsRequests:
			out := make([]rconn.PeerConnection, 0, k.conns.Len())
			k.conns.Each(func(pc *rconn.PeerConnection) bool {
				out = append(out, *pc)
				return true
			})
			req.Resp <- out
		}
	}
}

// Advertise requests that the local token be (re-)offered
// to every connection able to receive it, and that scanning be re-issued.
// It never blocks. Calls made while a previous request is pending are merged.
func (k *Kernel) Advertise() {
	select {
	case k.advertiseRequests <- struct{}{}:
	default:
		// Already pending.
	}
}

// Snapshot returns a deep copy of the peer table.
// An error is only returned if ctx is canceled
// or the kernel has stopped.
func (k *Kernel) Snapshot(ctx context.Context) (rtable.Snapshot, error) {
	req := snapshotRequest{Resp: make(chan rtable.Snapshot, 1)}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while making snapshot request: %w", context.Cause(ctx),
		)
	case <-k.done:
		return nil, errKernelStopped
	case k.snapshotRequests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while waiting for snapshot response: %w", context.Cause(ctx),
		)
	case s := <-req.Resp:
		return s, nil
	}
}

// Subscribe returns the current peer table
// along with the change stream positioned immediately after it.
func (k *Kernel) Subscribe(ctx context.Context) (Subscription, error) {
	req := subscribeRequest{Resp: make(chan Subscription, 1)}

	select {
	case <-ctx.Done():
		return Subscription{}, fmt.Errorf(
			"context canceled while making subscribe request: %w", context.Cause(ctx),
		)
	case <-k.done:
		return Subscription{}, errKernelStopped
	case k.subscribeRequests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return Subscription{}, fmt.Errorf(
			"context canceled while waiting for subscribe response: %w", context.Cause(ctx),
		)
	case sub := <-req.Resp:
		return sub, nil
	}
}

// Connections returns copies of every live connection record,
// in handle order.
func (k *Kernel) Connections(ctx context.Context) ([]rconn.PeerConnection, error) {
	req := connectionsRequest{Resp: make(chan []rconn.PeerConnection, 1)}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while making connections request: %w", context.Cause(ctx),
		)
	case <-k.done:
		return nil, errKernelStopped
	case k.connectionsRequests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while waiting for connections response: %w", context.Cause(ctx),
		)
	case cs := <-req.Resp:
		return cs, nil
	}
}

var errKernelStopped = errors.New("kernel stopped")

func (k *Kernel) handleRescanTick() {
	k.scanUnlessCooling()

	// Connections that became ready before the engine had a token
	// get their token as soon as one exists.
	if _, ok := k.engine.LocalToken(); !ok {
		return
	}
	k.conns.Each(func(pc *rconn.PeerConnection) bool {
		if pc.State.CanExchange() && !pc.TokenSent {
			k.sendLocalToken(pc)
		}
		return true
	})
}

func (k *Kernel) handleAdvertise() {
	if _, ok := k.engine.LocalToken(); !ok {
		k.log.Info(
			"Ranging inactive; advertise has no token to send",
			"reason", k.engine.Available(),
		)
		k.scanUnlessCooling()
		return
	}

	k.conns.Each(func(pc *rconn.PeerConnection) bool {
		if pc.State.CanExchange() {
			k.sendLocalToken(pc)
		}
		return true
	})
	k.scanUnlessCooling()
}

func (k *Kernel) scanUnlessCooling() {
	if k.cooldown == nil {
		k.link.Scan()
	}
}

// pauseScan stops active scanning for at least d.
// An existing pause is extended but never shortened.
func (k *Kernel) pauseScan(d time.Duration) {
	until := time.Now().Add(d)

	if k.cooldown != nil {
		if until.Before(k.cooldownUntil) {
			return
		}
		k.cooldown.Stop()
	} else {
		k.link.PauseScan()
	}

	k.cooldown = time.NewTimer(d)
	k.cooldownUntil = until
	k.log.Debug("Pausing scan after disconnect", "cooldown", d)
}

func (k *Kernel) shutdown() {
	if k.cooldown != nil {
		k.cooldown.Stop()
		k.cooldown = nil
	}

	k.conns.Each(func(pc *rconn.PeerConnection) bool {
		k.link.Disconnect(pc.Endpoint)
		return true
	})
}
