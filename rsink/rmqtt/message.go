package rmqtt

import (
	"time"

	"github.com/gordian-engine/radar/rtable"
)

type direction struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// message is the JSON document published per change.
type message struct {
	Token     string     `json:"token"`
	Distance  *float64   `json:"distance,omitempty"`
	Direction *direction `json:"direction,omitempty"`
	Removed   bool       `json:"removed"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func newMessage(c rtable.Change, now time.Time) message {
	m := message{
		Token:     c.Peer.Token.Hex(),
		Removed:   c.Removed,
		Timestamp: now.UTC(),
	}
	if c.Removed {
		m.Reason = c.Reason.String()
		return m
	}

	d := c.Peer.Distance
	m.Distance = &d
	if dir := c.Peer.Direction; dir != nil {
		m.Direction = &direction{X: dir.X, Y: dir.Y, Z: dir.Z}
	}
	if !c.Peer.UpdatedAt.IsZero() {
		m.Timestamp = c.Peer.UpdatedAt.UTC()
	}
	return m
}
