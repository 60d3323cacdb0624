// Package rtable holds the peer table:
// the latest ranging measurement per remote discovery token.
//
// A [Table] is owned by a single goroutine and is not safe for concurrent use.
// Other goroutines observe the table through a [Snapshot]
// or through the stream of [Change] values the owner publishes.
package rtable

import (
	"time"

	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtoken"
)

// Peer is the most recent measurement for one remote token.
type Peer struct {
	Token    rtoken.Token
	Distance float64

	// Nil when the engine could not resolve a direction
	// for the most recent measurement.
	Direction *rranging.Direction

	UpdatedAt time.Time
}

func (p Peer) clone() Peer {
	if p.Direction != nil {
		d := *p.Direction
		p.Direction = &d
	}
	return p
}

// Table maps tokens to peers. The zero value is not usable; call [New].
type Table struct {
	peers map[rtoken.Key]Peer
}

func New() *Table {
	return &Table{peers: map[rtoken.Key]Peer{}}
}

// Upsert stores p, replacing any entry with an equal token.
// It reports whether a new entry was created.
//
// Upsert panics if p has an empty token.
func (t *Table) Upsert(p Peer) (created bool) {
	if p.Token.IsZero() {
		panic("BUG: attempted to upsert peer with empty token")
	}

	k := p.Token.Key()
	_, had := t.peers[k]
	t.peers[k] = p.clone()
	return !had
}

// Remove deletes the entry for tok.
// Removing an absent token is a no-op and reports false.
func (t *Table) Remove(tok rtoken.Token) (removed bool) {
	k := tok.Key()
	if _, ok := t.peers[k]; !ok {
		return false
	}
	delete(t.peers, k)
	return true
}

// Get returns a copy of the entry for tok.
func (t *Table) Get(tok rtoken.Token) (Peer, bool) {
	p, ok := t.peers[tok.Key()]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

func (t *Table) Len() int {
	return len(t.peers)
}

// Snapshot returns a deep copy of the table's current entries.
func (t *Table) Snapshot() Snapshot {
	s := make(Snapshot, 0, len(t.peers))
	for _, p := range t.peers {
		s = append(s, p.clone())
	}
	s.sort()
	return s
}
