// Package rlinktest contains an in-memory [rlink.Link] for tests.
package rlinktest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/radar/rlink"
)

// recordBufferSize is the capacity of each recording channel.
// Tests are expected to drain the channels they assert on.
const recordBufferSize = 256

// Sent is a payload passed to [*Link.Send].
type Sent struct {
	Endpoint rlink.EndpointID
	Data     []byte
}

// Link is a scripted [rlink.Link].
// It never produces events on its own;
// tests inject events with [*Link.Emit]
// and observe the kernel's commands on the exported channels.
type Link struct {
	Connects    chan rlink.EndpointID
	Discovers   chan rlink.EndpointID
	Disconnects chan rlink.EndpointID
	Sends       chan Sent

	scans  atomic.Int32
	pauses atomic.Int32

	mu          sync.Mutex
	notWritable map[rlink.EndpointID]bool
	closed      bool

	ctx     context.Context
	events  chan<- rlink.Event
	started chan struct{}
}

var _ rlink.Link = (*Link)(nil)

// New returns a new Link ready to be started.
func New() *Link {
	return &Link{
		Connects:    make(chan rlink.EndpointID, recordBufferSize),
		Discovers:   make(chan rlink.EndpointID, recordBufferSize),
		Disconnects: make(chan rlink.EndpointID, recordBufferSize),
		Sends:       make(chan Sent, recordBufferSize),

		notWritable: map[rlink.EndpointID]bool{},

		started: make(chan struct{}),
	}
}

func (l *Link) Start(ctx context.Context, events chan<- rlink.Event) error {
	if l.events != nil {
		return errors.New("rlinktest: Start called twice")
	}
	l.ctx = ctx
	l.events = events
	close(l.started)
	return nil
}

// Started is closed once Start has been called.
func (l *Link) Started() <-chan struct{} {
	return l.started
}

// Emit delivers ev to the kernel, blocking until it is accepted
// or the start context is canceled.
// Emit must only be called after Start.
func (l *Link) Emit(ev rlink.Event) {
	<-l.started
	select {
	case <-l.ctx.Done():
	case l.events <- ev:
	}
}

func (l *Link) Scan()      { l.scans.Add(1) }
func (l *Link) PauseScan() { l.pauses.Add(1) }

// ScanCount reports how many times Scan has been called.
func (l *Link) ScanCount() int { return int(l.scans.Load()) }

// PauseCount reports how many times PauseScan has been called.
func (l *Link) PauseCount() int { return int(l.pauses.Load()) }

func (l *Link) Connect(ep rlink.EndpointID) {
	record(l.Connects, ep)
}

func (l *Link) DiscoverServices(ep rlink.EndpointID) {
	record(l.Discovers, ep)
}

func (l *Link) Disconnect(ep rlink.EndpointID) {
	record(l.Disconnects, ep)
}

// SetWritable controls whether Send succeeds for ep.
// Endpoints are writable by default.
func (l *Link) SetWritable(ep rlink.EndpointID, writable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notWritable[ep] = !writable
}

func (l *Link) Send(ep rlink.EndpointID, data []byte) error {
	l.mu.Lock()
	nw := l.notWritable[ep]
	l.mu.Unlock()

	if nw {
		return rlink.ErrNotWritable
	}

	record(l.Sends, Sent{
		Endpoint: ep,
		Data:     append([]byte(nil), data...),
	})
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func record[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		panic("rlinktest: recording buffer full; drain the channel in the test")
	}
}
