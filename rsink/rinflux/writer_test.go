package rinflux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/radar/internal/rtest"
	"github.com/gordian-engine/radar/rpubsub"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/require"
)

type fakeWriteAPI struct {
	api.WriteAPI

	mu      sync.Mutex
	points  []*write.Point
	flushed int

	errs chan error
}

func newFakeWriteAPI() *fakeWriteAPI {
	return &fakeWriteAPI{errs: make(chan error)}
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
}

func (f *fakeWriteAPI) Errors() <-chan error { return f.errs }

func (f *fakeWriteAPI) Points() []*write.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*write.Point(nil), f.points...)
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestNewPoint(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := newPoint(rtoken.New([]byte{0x0a}), rtable.Peer{
		Token:     rtoken.New([]byte{0x0b}),
		Distance:  2.25,
		Direction: &rranging.Direction{X: 0.5, Y: -0.5, Z: 0},
		UpdatedAt: at,
	})

	require.Equal(t, Measurement, p.Name())
	require.Equal(t, at, p.Time())
	require.Equal(t, map[string]string{
		"source_token":      "0a",
		"destination_token": "0b",
	}, tagMap(p))
	require.Equal(t, map[string]any{
		"distance": 2.25,
		"dir_x":    0.5,
		"dir_y":    -0.5,
		"dir_z":    0.0,
	}, fieldMap(p))
}

func TestNewPoint_noDirection(t *testing.T) {
	t.Parallel()

	p := newPoint(rtoken.New([]byte{1}), rtable.Peer{
		Token:    rtoken.New([]byte{2}),
		Distance: 3,
	})
	require.Equal(t, map[string]any{"distance": 3.0}, fieldMap(p))
}

func TestWriter_Write_skips(t *testing.T) {
	t.Parallel()

	fw := newFakeWriteAPI()
	var local rtoken.Token
	w := NewWriter(rtest.NewLogger(t), fw, func() (rtoken.Token, bool) {
		return local, !local.IsZero()
	})

	peer := rtable.Peer{Token: rtoken.New([]byte{2}), Distance: 1}

	// No local token yet.
	w.Write(rtable.Change{Peer: peer})
	require.Empty(t, fw.Points())

	local = rtoken.New([]byte{1})

	w.Write(rtable.Change{Peer: rtable.Peer{Token: peer.Token}, Removed: true})
	require.Empty(t, fw.Points())

	w.Write(rtable.Change{Peer: peer})
	require.Len(t, fw.Points(), 1)
}

func TestWriter_Run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fw := newFakeWriteAPI()
	w := NewWriter(rtest.NewLogger(t), fw, func() (rtoken.Token, bool) {
		return rtoken.New([]byte{1}), true
	})

	snap := rtable.Snapshot{{Token: rtoken.New([]byte{2}), Distance: 1}}
	s := rpubsub.NewStream[rtable.Change]()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, snap, s)
	}()

	s.Publish(rtable.Change{Peer: rtable.Peer{Token: rtoken.New([]byte{3}), Distance: 2}})

	require.Eventually(t, func() bool {
		return len(fw.Points()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	_ = rtest.ReceiveSoon(t, done)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	require.Equal(t, 1, fw.flushed)
}
