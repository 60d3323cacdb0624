package rtable

import (
	"slices"
	"strings"

	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtoken"
)

// Snapshot is a point-in-time copy of the peer table,
// ordered by token bytes so repeated snapshots compare cleanly.
type Snapshot []Peer

func (s Snapshot) sort() {
	slices.SortFunc(s, func(a, b Peer) int {
		return strings.Compare(string(a.Token.Key()), string(b.Token.Key()))
	})
}

// Find returns the entry for tok, if present.
func (s Snapshot) Find(tok rtoken.Token) (Peer, bool) {
	for _, p := range s {
		if p.Token.Equal(tok) {
			return p, true
		}
	}
	return Peer{}, false
}

// Change describes one mutation of the peer table.
type Change struct {
	// For a removal, only Peer.Token is set.
	Peer Peer

	Removed bool

	// Set when Removed is true.
	Reason rranging.RemovalReason
}
