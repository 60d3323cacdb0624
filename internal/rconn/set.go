package rconn

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/radar/rlink"
)

// ErrDuplicateEndpoint is returned from [*Set.Add]
// when the endpoint already has a live record.
var ErrDuplicateEndpoint = errors.New("endpoint already has a live connection record")

// Set is the arena of live connection records, indexed by endpoint.
//
// Pointers returned from Set methods stay valid
// until the next call to [*Set.Add].
type Set struct {
	arena []PeerConnection

	// Bit i is set when arena[i] holds a live record.
	live *bitset.BitSet

	byEndpoint map[rlink.EndpointID]Handle
}

func NewSet() *Set {
	return &Set{
		live:       bitset.New(0),
		byEndpoint: map[rlink.EndpointID]Handle{},
	}
}

// Add creates a fresh record for ep in the [Discovered] state
// with a zero attempt count.
func (s *Set) Add(ep rlink.EndpointID, p Policy) (*PeerConnection, error) {
	if _, ok := s.byEndpoint[ep]; ok {
		return nil, fmt.Errorf("cannot add %q: %w", ep, ErrDuplicateEndpoint)
	}

	idx, ok := s.live.NextClear(0)
	if !ok || idx >= uint(len(s.arena)) {
		idx = uint(len(s.arena))
		s.arena = append(s.arena, PeerConnection{})
	}

	h := Handle(idx)
	s.arena[idx] = PeerConnection{
		Handle:   h,
		Endpoint: ep,
		State:    Discovered,
		Policy:   p,
	}
	s.live.Set(idx)
	s.byEndpoint[ep] = h

	return &s.arena[idx], nil
}

// Get returns the live record at h, or nil.
func (s *Set) Get(h Handle) *PeerConnection {
	if !s.live.Test(uint(h)) {
		return nil
	}
	return &s.arena[h]
}

// Lookup returns the live record for ep, or nil.
func (s *Set) Lookup(ep rlink.EndpointID) *PeerConnection {
	h, ok := s.byEndpoint[ep]
	if !ok {
		return nil
	}
	return &s.arena[h]
}

// Remove frees the record at h.
//
// Remove panics if h is not live.
func (s *Set) Remove(h Handle) {
	if !s.live.Test(uint(h)) {
		panic(fmt.Errorf("BUG: attempted to remove non-live handle %d", h))
	}

	delete(s.byEndpoint, s.arena[h].Endpoint)
	s.arena[h] = PeerConnection{}
	s.live.Clear(uint(h))
}

// Len reports the number of live records.
func (s *Set) Len() int {
	return len(s.byEndpoint)
}

// Each calls fn for every live record in handle order,
// stopping early if fn returns false.
// fn must not add or remove records.
func (s *Set) Each(fn func(*PeerConnection) bool) {
	for i, ok := s.live.NextSet(0); ok; i, ok = s.live.NextSet(i + 1) {
		if !fn(&s.arena[i]) {
			return
		}
	}
}
