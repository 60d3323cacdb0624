package rquic

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/radar/rlink"
	"github.com/quic-go/quic-go"
)

// Application error codes used when closing sessions.
const (
	closeNormal       quic.ApplicationErrorCode = 0
	closeWrongService quic.ApplicationErrorCode = 1
	closeBadHello     quic.ApplicationErrorCode = 2
)

var errInviteTimeout = errors.New("timed out waiting for incoming session")

// Link is an [rlink.Link] over QUIC with multicast discovery.
type Link struct {
	log *slog.Logger

	cfg Config

	endpoint rlink.EndpointID
	beacon   []byte

	tr *quic.Transport
	ql *quic.Listener

	scanning atomic.Bool

	mu      sync.Mutex
	peers   map[rlink.EndpointID]*remote
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	events chan<- rlink.Event

	wg sync.WaitGroup
}

var _ rlink.Link = (*Link)(nil)

// remote is everything known about one announcing participant.
// Guarded by Link.mu.
type remote struct {
	id       uuid.UUID
	addr     net.Addr
	lastSeen time.Time

	sess *session

	// Set while this side is dialing.
	dialing bool

	// Set while this side expects the remote to dial.
	waiting *time.Timer
}

type session struct {
	conn   *quic.Conn
	stream *quic.Stream

	wmu sync.Mutex

	// Set when the local side ends the session,
	// so the read loop does not report it as a drop.
	closedByUs atomic.Bool
}

func (s *session) write(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.stream.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return writeFrame(s.stream, data)
}

func (s *session) close() {
	s.closedByUs.Store(true)
	_ = s.conn.CloseWithError(closeNormal, "disconnect")
}

// NewLink returns a Link with the given configuration.
// Nothing touches the network until [*Link.Start].
//
// Configuration errors cause a panic.
func NewLink(log *slog.Logger, cfg Config) (*Link, error) {
	cfg.validate()
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	port := cfg.QUICConn.LocalAddr().(*net.UDPAddr).Port

	return &Link{
		log: log,

		cfg: cfg,

		endpoint: rlink.EndpointID(cfg.InstanceID.String()),
		beacon: announcement{
			ServiceType: cfg.ServiceType,
			InstanceID:  cfg.InstanceID,
			Port:        uint16(port),
		}.encode(),

		tr: &quic.Transport{Conn: cfg.QUICConn},

		peers: map[rlink.EndpointID]*remote{},
	}, nil
}

// Endpoint is the ID remote links report for this one.
func (l *Link) Endpoint() rlink.EndpointID {
	return l.endpoint
}

func (l *Link) Start(ctx context.Context, events chan<- rlink.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("link already started")
	}

	ql, err := l.tr.Listen(l.cfg.TLS, l.cfg.QUIC)
	if err != nil {
		return fmt.Errorf("failed to set up QUIC listener: %w", err)
	}

	l.started = true
	l.ql = ql
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.events = events
	l.scanning.Store(true)

	l.wg.Add(4)
	go l.acceptSessions()
	go l.sendBeacons()
	go l.receiveBeacons()
	go l.sweepLost()

	l.log.Info(
		"Link started",
		"endpoint", l.endpoint,
		"quic_addr", l.cfg.QUICConn.LocalAddr().String(),
	)
	return nil
}

// emit delivers ev unless the link is shutting down.
// It must never be called while holding l.mu.
func (l *Link) emit(ev rlink.Event) {
	select {
	case <-l.ctx.Done():
	case l.events <- ev:
	}
}

// emitAsync delivers events in order from a new goroutine,
// for callers that may be running on the kernel goroutine.
func (l *Link) emitAsync(evs ...rlink.Event) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for _, ev := range evs {
			l.emit(ev)
		}
	}()
}

func (l *Link) sendBeacons() {
	defer l.wg.Done()

	t := time.NewTicker(l.cfg.BeaconInterval)
	defer t.Stop()

	for {
		for _, to := range l.cfg.BeaconTargets {
			if _, err := l.cfg.BeaconConn.WriteTo(l.beacon, to); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				l.log.Debug("Failed to send beacon", "to", to.String(), "err", err)
			}
		}

		select {
		case <-l.ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (l *Link) receiveBeacons() {
	defer l.wg.Done()

	buf := make([]byte, 512)
	for {
		n, from, err := l.cfg.BeaconConn.ReadFrom(buf)
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Debug("Failed to read beacon", "err", err)
			continue
		}

		a, err := decodeAnnouncement(buf[:n])
		if err != nil {
			l.log.Debug("Ignoring malformed beacon", "from", from.String(), "err", err)
			continue
		}
		if a.ServiceType != l.cfg.ServiceType || a.InstanceID == l.cfg.InstanceID || a.Port == 0 {
			continue
		}

		src, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}

		ep := rlink.EndpointID(a.InstanceID.String())
		addr := &net.UDPAddr{IP: src.IP, Port: int(a.Port), Zone: src.Zone}

		l.mu.Lock()
		r, known := l.peers[ep]
		if !known {
			r = &remote{id: a.InstanceID}
			l.peers[ep] = r
		}
		r.addr = addr
		r.lastSeen = time.Now()
		l.mu.Unlock()

		if !known && l.scanning.Load() {
			l.emit(rlink.Event{Kind: rlink.Discovered, Endpoint: ep})
		}
	}
}

// sweepLost forgets idle participants whose announcements stopped.
func (l *Link) sweepLost() {
	defer l.wg.Done()

	t := time.NewTicker(l.cfg.LostAfter / 2)
	defer t.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-t.C:
		}

		cutoff := time.Now().Add(-l.cfg.LostAfter)
		var lost []rlink.EndpointID

		l.mu.Lock()
		for ep, r := range l.peers {
			if r.sess != nil || r.dialing || r.waiting != nil {
				continue
			}
			if r.lastSeen.Before(cutoff) {
				delete(l.peers, ep)
				lost = append(lost, ep)
			}
		}
		l.mu.Unlock()

		for _, ep := range lost {
			l.emit(rlink.Event{Kind: rlink.Lost, Endpoint: ep})
		}
	}
}

func (l *Link) Scan() {
	l.scanning.Store(true)

	// Re-report everything currently announcing,
	// in case an earlier report was missed while paused.
	l.mu.Lock()
	evs := make([]rlink.Event, 0, len(l.peers))
	for ep := range l.peers {
		evs = append(evs, rlink.Event{Kind: rlink.Discovered, Endpoint: ep})
	}
	l.mu.Unlock()

	if len(evs) > 0 {
		l.emitAsync(evs...)
	}
}

func (l *Link) PauseScan() {
	l.scanning.Store(false)
}

// dialsTo reports whether this side initiates the session with id.
func (l *Link) dialsTo(id uuid.UUID) bool {
	return bytes.Compare(l.cfg.InstanceID[:], id[:]) < 0
}

func (l *Link) Connect(ep rlink.EndpointID) {
	l.mu.Lock()
	r := l.peers[ep]

	switch {
	case r == nil:
		l.mu.Unlock()
		l.emitAsync(rlink.Event{Kind: rlink.ConnectFailed, Endpoint: ep, Err: rlink.ErrUnknownEndpoint})

	case r.sess != nil:
		// The remote already dialed us.
		l.mu.Unlock()
		l.emitAsync(rlink.Event{Kind: rlink.ConnectSucceeded, Endpoint: ep})

	case l.dialsTo(r.id):
		if r.dialing {
			l.mu.Unlock()
			return
		}
		r.dialing = true
		addr := r.addr
		l.mu.Unlock()

		l.wg.Add(1)
		go l.dial(ep, addr)

	default:
		if r.waiting == nil {
			r.waiting = time.AfterFunc(l.cfg.InviteTimeout, func() {
				l.inviteExpired(ep)
			})
		}
		l.mu.Unlock()
	}
}

func (l *Link) inviteExpired(ep rlink.EndpointID) {
	l.mu.Lock()
	r := l.peers[ep]
	if r == nil || r.waiting == nil || r.sess != nil {
		l.mu.Unlock()
		return
	}
	r.waiting = nil
	l.mu.Unlock()

	l.emit(rlink.Event{Kind: rlink.ConnectFailed, Endpoint: ep, Err: errInviteTimeout})
}

func (l *Link) dial(ep rlink.EndpointID, addr net.Addr) {
	defer l.wg.Done()

	s, err := l.openSession(addr)

	l.mu.Lock()
	r := l.peers[ep]
	if r != nil {
		r.dialing = false
	}
	if err == nil && r != nil {
		if r.sess != nil {
			// Lost a race with an inbound session; keep the existing one.
			s.close()
			s = r.sess
		} else {
			r.sess = s
		}
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Debug("Dial failed", "endpoint", ep, "addr", addr.String(), "err", err)
		l.emit(rlink.Event{Kind: rlink.ConnectFailed, Endpoint: ep, Err: err})
		return
	}
	if r == nil {
		s.close()
		l.emit(rlink.Event{Kind: rlink.ConnectFailed, Endpoint: ep, Err: rlink.ErrUnknownEndpoint})
		return
	}

	l.wg.Add(1)
	go l.readSession(ep, s)

	l.emit(rlink.Event{Kind: rlink.ConnectSucceeded, Endpoint: ep})
}

func (l *Link) openSession(addr net.Addr) (*session, error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.InviteTimeout)
	defer cancel()

	conn, err := l.tr.Dial(ctx, addr, l.cfg.TLS, l.cfg.QUIC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeNormal, "")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	s := &session{conn: conn, stream: stream}

	// The stream only becomes visible to the remote once it carries data,
	// so the hello goes out immediately.
	hello := announcement{
		ServiceType: l.cfg.ServiceType,
		InstanceID:  l.cfg.InstanceID,
	}.encode()
	if err := s.write(hello); err != nil {
		_ = conn.CloseWithError(closeNormal, "")
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	return s, nil
}

func (l *Link) acceptSessions() {
	defer l.wg.Done()

	for {
		conn, err := l.ql.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.log.Info("Stopped accepting sessions", "err", err)
			}
			return
		}

		l.wg.Add(1)
		go l.handleInbound(conn)
	}
}

func (l *Link) handleInbound(conn *quic.Conn) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.InviteTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.log.Debug("Inbound session opened no stream", "err", err)
		_ = conn.CloseWithError(closeBadHello, "no stream")
		return
	}

	br := bufio.NewReader(stream)
	_ = stream.SetReadDeadline(time.Now().Add(l.cfg.InviteTimeout))
	raw, err := readFrame(br)
	if err != nil {
		_ = conn.CloseWithError(closeBadHello, "no hello")
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	hello, err := decodeAnnouncement(raw)
	if err != nil {
		l.log.Debug("Rejecting session with malformed hello", "err", err)
		_ = conn.CloseWithError(closeBadHello, "malformed hello")
		return
	}
	if hello.ServiceType != l.cfg.ServiceType {
		_ = conn.CloseWithError(closeWrongService, "wrong service")
		return
	}

	ep := rlink.EndpointID(hello.InstanceID.String())
	s := &session{conn: conn, stream: stream}

	l.mu.Lock()
	r := l.peers[ep]
	isNew := r == nil
	if isNew {
		// Every invitation for our service is accepted,
		// even before the remote's announcement reaches us.
		r = &remote{id: hello.InstanceID, addr: conn.RemoteAddr()}
		l.peers[ep] = r
	}
	r.lastSeen = time.Now()

	old := r.sess
	r.sess = s

	waited := r.waiting != nil
	if waited {
		r.waiting.Stop()
		r.waiting = nil
	}
	l.mu.Unlock()

	if old != nil {
		// The remote restarted its side; the new session supersedes the old one.
		old.close()
	}

	l.wg.Add(1)
	go l.readSessionFrom(ep, s, br)

	if isNew {
		l.emit(rlink.Event{Kind: rlink.Discovered, Endpoint: ep})
	}
	if waited {
		l.emit(rlink.Event{Kind: rlink.ConnectSucceeded, Endpoint: ep})
	}
}

func (l *Link) readSession(ep rlink.EndpointID, s *session) {
	l.readSessionFrom(ep, s, bufio.NewReader(s.stream))
}

// readSessionFrom delivers frames from s until the session ends.
// The caller must have incremented l.wg.
func (l *Link) readSessionFrom(ep rlink.EndpointID, s *session, br *bufio.Reader) {
	defer l.wg.Done()

	var err error
	for {
		var data []byte
		data, err = readFrame(br)
		if err != nil {
			break
		}
		l.emit(rlink.Event{Kind: rlink.DataReceived, Endpoint: ep, Data: data})
	}

	l.mu.Lock()
	if r := l.peers[ep]; r != nil && r.sess == s {
		r.sess = nil

		// Give the remote a full LostAfter to announce again.
		r.lastSeen = time.Now()
	}
	l.mu.Unlock()

	_ = s.conn.CloseWithError(closeNormal, "")

	if s.closedByUs.Load() || l.ctx.Err() != nil {
		return
	}
	l.log.Debug("Session ended", "endpoint", ep, "err", err)
	l.emit(rlink.Event{Kind: rlink.Disconnected, Endpoint: ep, Err: err})
}

func (l *Link) DiscoverServices(ep rlink.EndpointID) {
	l.mu.Lock()
	r := l.peers[ep]
	bound := r != nil && r.sess != nil
	l.mu.Unlock()

	// A session is its own service; there is nothing more to locate.
	if bound {
		l.emitAsync(rlink.Event{Kind: rlink.ServicesBound, Endpoint: ep})
	} else {
		l.emitAsync(rlink.Event{Kind: rlink.Disconnected, Endpoint: ep, Err: rlink.ErrNotWritable})
	}
}

// Send queues data on the endpoint's session.
// The stream write happens on its own goroutine,
// so flow-control backpressure never stalls the caller.
func (l *Link) Send(ep rlink.EndpointID, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.peers[ep]
	if r == nil {
		return rlink.ErrUnknownEndpoint
	}
	s := r.sess
	if s == nil || l.closed {
		return rlink.ErrNotWritable
	}

	buf := bytes.Clone(data)

	// Added under the lock so Close cannot be between its closed check and wg.Wait.
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := s.write(buf); err != nil && l.ctx.Err() == nil {
			l.log.Debug("Failed to send frame", "endpoint", ep, "err", err)
		}
	}()
	return nil
}

func (l *Link) Disconnect(ep rlink.EndpointID) {
	l.mu.Lock()
	r := l.peers[ep]
	var s *session
	if r != nil {
		s = r.sess
		r.sess = nil
		if r.waiting != nil {
			r.waiting.Stop()
			r.waiting = nil
		}
	}
	l.mu.Unlock()

	if s != nil {
		s.close()
	}
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started

	var sessions []*session
	for _, r := range l.peers {
		if r.sess != nil {
			sessions = append(sessions, r.sess)
			r.sess = nil
		}
		if r.waiting != nil {
			r.waiting.Stop()
			r.waiting = nil
		}
	}
	l.mu.Unlock()

	if started {
		l.cancel()
	}

	for _, s := range sessions {
		s.close()
	}

	var err error
	if started {
		err = errors.Join(l.ql.Close(), l.tr.Close())
	}
	err = errors.Join(
		err,
		l.cfg.BeaconConn.Close(),
		l.cfg.QUICConn.Close(),
	)

	l.wg.Wait()
	return err
}
