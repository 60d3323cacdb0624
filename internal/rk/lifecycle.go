package rk

import (
	"fmt"

	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/rlink"
)

func (k *Kernel) handleLinkEvent(ev rlink.Event) {
	switch ev.Kind {
	case rlink.Discovered:
		k.handleDiscovered(ev.Endpoint)
	case rlink.Lost:
		k.handleLost(ev.Endpoint)
	case rlink.ConnectSucceeded:
		k.handleConnectSucceeded(ev.Endpoint)
	case rlink.ConnectFailed, rlink.Disconnected:
		k.handleFailure(ev)
	case rlink.ServicesBound:
		k.handleServicesBound(ev.Endpoint)
	case rlink.DataReceived:
		k.handleDataReceived(ev.Endpoint, ev.Data)
	default:
		panic(fmt.Errorf("BUG: unknown link event kind %s", ev.Kind))
	}
}

func (k *Kernel) handleDiscovered(ep rlink.EndpointID) {
	if pc := k.conns.Lookup(ep); pc != nil {
		k.log.Debug(
			"Ignoring discovery of tracked endpoint",
			"endpoint", ep, "state", pc.State,
		)
		return
	}

	pc, err := k.conns.Add(ep, k.policyFor(ep))
	if err != nil {
		panic(fmt.Errorf("BUG: failed to add untracked endpoint: %w", err))
	}

	k.log.Info("Discovered endpoint; connecting", "endpoint", ep)
	k.connect(pc)
}

func (k *Kernel) connect(pc *rconn.PeerConnection) {
	pc.State = rconn.Connecting
	k.link.Connect(pc.Endpoint)
}

func (k *Kernel) handleLost(ep rlink.EndpointID) {
	pc := k.conns.Lookup(ep)
	if pc == nil {
		return
	}

	// A linked endpoint may stop advertising while connected;
	// its fate is decided by the connection callbacks instead.
	if pc.State.IsLinked() {
		k.log.Debug("Ignoring loss of linked endpoint", "endpoint", ep, "state", pc.State)
		return
	}

	k.log.Info("Endpoint no longer observed; dropping", "endpoint", ep, "state", pc.State)
	k.link.Disconnect(ep)
	k.conns.Remove(pc.Handle)
}

func (k *Kernel) handleConnectSucceeded(ep rlink.EndpointID) {
	pc := k.conns.Lookup(ep)
	if pc == nil {
		k.log.Debug("Ignoring connection to untracked endpoint", "endpoint", ep)
		return
	}
	if pc.State != rconn.Connecting {
		k.log.Debug(
			"Ignoring duplicate connect success",
			"endpoint", ep, "state", pc.State,
		)
		return
	}

	pc.ResetAttempts()
	pc.State = rconn.Connected
	k.link.DiscoverServices(ep)
}

func (k *Kernel) handleFailure(ev rlink.Event) {
	pc := k.conns.Lookup(ev.Endpoint)
	if pc == nil {
		return
	}
	if pc.State == rconn.Discovered {
		// Nothing was in flight.
		return
	}

	prev := pc.State
	cooldown := pc.Policy.ScanCooldown
	if !pc.State.IsLinked() {
		// Only a dropped connection pauses scanning, not a failed connect.
		cooldown = 0
	}

	if !pc.RecordFailure() {
		k.log.Info(
			"Abandoning endpoint after exhausting connection attempts",
			"endpoint", ev.Endpoint,
			"attempts", pc.AttemptCount,
			"err", ev.Err,
		)
		k.conns.Remove(pc.Handle)
		if cooldown > 0 {
			k.pauseScan(cooldown)
		}
		return
	}

	k.log.Info(
		"Connection attempt failed; retrying",
		"endpoint", ev.Endpoint,
		"event", ev.Kind,
		"prev_state", prev,
		"attempts", pc.AttemptCount,
		"err", ev.Err,
	)

	if cooldown > 0 {
		k.pauseScan(cooldown)
	}

	k.connect(pc)
}

func (k *Kernel) handleServicesBound(ep rlink.EndpointID) {
	pc := k.conns.Lookup(ep)
	if pc == nil || pc.State != rconn.Connected {
		k.log.Debug("Ignoring services bound outside of Connected state", "endpoint", ep)
		return
	}

	// The link is already delivering inbound payloads once it reports
	// the services bound, so the record moves straight on to Exchanging.
	pc.State = rconn.Exchanging
	k.sendLocalToken(pc)

	if !pc.RemoteToken.IsZero() {
		if _, ok := k.configured[pc.RemoteToken.Key()]; ok {
			pc.State = rconn.Ranging
		}
	}
}
