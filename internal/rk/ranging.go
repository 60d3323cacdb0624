package rk

import (
	"time"

	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
)

func (k *Kernel) handleRangingEvent(ev rranging.Event) {
	if ev.Token.IsZero() {
		k.log.Warn("Dropping ranging event without token", "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case rranging.Updated:
		p := rtable.Peer{
			Token:     ev.Token,
			Distance:  ev.Distance,
			Direction: ev.Direction,
			UpdatedAt: time.Now(),
		}
		if k.table.Upsert(p) {
			k.log.Info("New peer in range", "token", ev.Token, "distance", ev.Distance)
		}

		// Publish the table's own copy so readers never share
		// the engine's direction value.
		stored, _ := k.table.Get(ev.Token)
		k.publish(rtable.Change{Peer: stored})

	case rranging.Removed:
		key := ev.Token.Key()
		delete(k.configured, key)

		// A later token from the same peer must start a new session,
		// so forget it on the connections that delivered it.
		k.conns.Each(func(pc *rconn.PeerConnection) bool {
			if !pc.RemoteToken.Equal(ev.Token) {
				return true
			}
			pc.RemoteToken = rtoken.Token{}
			if pc.State == rconn.Ranging {
				pc.State = rconn.Exchanging
			}
			return true
		})

		if !k.table.Remove(ev.Token) {
			return
		}
		k.log.Info("Peer out of range", "token", ev.Token, "reason", ev.Reason)
		k.publish(rtable.Change{
			Peer:    rtable.Peer{Token: ev.Token},
			Removed: true,
			Reason:  ev.Reason,
		})

	default:
		k.log.Warn("Dropping ranging event of unknown kind", "kind", ev.Kind, "token", ev.Token)
	}
}

func (k *Kernel) publish(c rtable.Change) {
	k.changes.Publish(c)
	k.changes = k.changes.Next
}
