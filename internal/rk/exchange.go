package rk

import (
	"errors"
	"time"

	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/rlink"
	"github.com/gordian-engine/radar/rtoken"
)

// sendLocalToken offers the local token on pc's channel.
// It is a no-op while ranging is inactive
// or while the channel is not writable.
func (k *Kernel) sendLocalToken(pc *rconn.PeerConnection) {
	if !k.sendTokenTo(pc.Endpoint) {
		return
	}
	pc.TokenSent = true
}

func (k *Kernel) sendTokenTo(ep rlink.EndpointID) bool {
	tok, ok := k.engine.LocalToken()
	if !ok {
		k.log.Debug("Ranging inactive; not sending token", "endpoint", ep)
		return false
	}

	b, err := k.codec.Encode(tok)
	if err != nil {
		k.log.Warn("Failed to encode local token", "err", err)
		return false
	}

	if err := k.link.Send(ep, b); err != nil {
		if errors.Is(err, rlink.ErrNotWritable) {
			k.log.Debug("Channel not writable; token not sent", "endpoint", ep)
		} else {
			k.log.Info("Failed to send token", "endpoint", ep, "err", err)
		}
		return false
	}

	return true
}

func (k *Kernel) handleDataReceived(ep rlink.EndpointID, data []byte) {
	tok, err := k.codec.Decode(data)
	if err != nil {
		// The peer will resend on its own retry cycle.
		k.log.Warn("Dropping malformed token payload", "endpoint", ep, "err", err)
		return
	}

	if local, ok := k.engine.LocalToken(); ok && local.Equal(tok) {
		k.log.Debug("Ignoring echo of local token", "endpoint", ep)
		return
	}

	pc := k.conns.Lookup(ep)
	if pc == nil {
		// A remote central can write to our advertised channel
		// without us ever having connected to it.
		// There is no record to remember a reply in,
		// so every token from it is answered.
		k.log.Debug("Token from untracked endpoint", "endpoint", ep, "token", tok)
		if _, ok := k.configured[tok.Key()]; !ok {
			if err := k.configure(tok); err != nil {
				return
			}
		}
		k.sendTokenTo(ep)
		return
	}

	if _, ok := k.configured[tok.Key()]; !ok {
		if err := k.configure(tok); err != nil {
			return
		}
	}

	isNew := !pc.RemoteToken.Equal(tok)

	pc.RemoteToken = tok
	pc.TokenReceivedAt = time.Now()

	if !pc.State.CanExchange() {
		// The remote wrote to us before our own connection finished.
		// Binding services promotes the record once it gets there.
		k.log.Debug(
			"Token arrived before exchange channel was ready",
			"endpoint", ep, "state", pc.State,
		)
		return
	}
	pc.State = rconn.Ranging

	// Reciprocate once per distinct remote token.
	// Resending on every receipt would ping-pong forever
	// between two peers doing the same.
	if isNew || !pc.TokenSent {
		k.sendLocalToken(pc)
	}
}

// configure hands tok to the ranging engine
// and records it as having an active session.
func (k *Kernel) configure(tok rtoken.Token) error {
	if err := k.engine.Configure(tok); err != nil {
		k.log.Warn("Ranging engine rejected token", "token", tok, "err", err)
		return err
	}

	k.configured[tok.Key()] = struct{}{}
	k.log.Info("Configured ranging session", "token", tok)
	return nil
}
