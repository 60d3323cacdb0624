package radar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/radar/internal/rconn"
	"github.com/gordian-engine/radar/internal/rk"
	"github.com/gordian-engine/radar/rlink"
	"github.com/gordian-engine/radar/rpubsub"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
)

const (
	// DefaultMaxConnectionAttempts is used when
	// NodeConfig.MaxConnectionAttempts is zero.
	DefaultMaxConnectionAttempts = rconn.DefaultMaxAttempts

	// DefaultRescanInterval is used when NodeConfig.RescanInterval is zero.
	DefaultRescanInterval = time.Second
)

// Node is a radar participant.
// It owns a transport link and a ranging engine
// for as long as its context is alive.
type Node struct {
	log *slog.Logger

	k *rk.Kernel

	link   rlink.Link
	engine rranging.Engine

	wg sync.WaitGroup
}

// PeerPolicy is the retry and scanning behavior for one endpoint.
type PeerPolicy struct {
	// Consecutive failed attempts before the endpoint is abandoned
	// until it is discovered again.
	MaxConnectionAttempts int

	// How long to pause active scanning after the endpoint disconnects.
	// Zero means scanning is never paused.
	ScanCooldown time.Duration
}

// NodeConfig is the configuration for a [Node].
type NodeConfig struct {
	// The transport. The Node calls Start on it
	// and closes it when the Node's context is canceled.
	Link rlink.Link

	Engine rranging.Engine

	// Token wire encoding.
	// If nil, [rtoken.EnvelopeCodec] is used.
	Codec rtoken.Codec

	// If zero, [DefaultMaxConnectionAttempts] is used.
	MaxConnectionAttempts int

	// If zero, [DefaultRescanInterval] is used.
	RescanInterval time.Duration

	// Pause after a disconnect. Zero disables the pause.
	ScanCooldown time.Duration

	// Optional per-endpoint override of MaxConnectionAttempts and ScanCooldown.
	// It is called once for each newly discovered endpoint,
	// from the Node's internal goroutine, so it must not block.
	PeerPolicy func(rlink.EndpointID) PeerPolicy
}

// validate panics if there are any illegal settings in the configuration.
func (c NodeConfig) validate() {
	var panicErrs error

	if c.Link == nil {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("NodeConfig.Link may not be nil"),
		)
	}

	if c.Engine == nil {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("NodeConfig.Engine may not be nil"),
		)
	}

	if c.MaxConnectionAttempts < 0 {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("NodeConfig.MaxConnectionAttempts must not be negative (got %d)", c.MaxConnectionAttempts),
		)
	}

	if c.RescanInterval < 0 {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("NodeConfig.RescanInterval must not be negative (got %s)", c.RescanInterval),
		)
	}

	if c.ScanCooldown < 0 {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("NodeConfig.ScanCooldown must not be negative (got %s)", c.ScanCooldown),
		)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

func (c NodeConfig) policyFunc(log *slog.Logger) func(rlink.EndpointID) rconn.Policy {
	base := rconn.Policy{
		MaxAttempts:  c.MaxConnectionAttempts,
		ScanCooldown: c.ScanCooldown,
	}
	if base.MaxAttempts == 0 {
		base.MaxAttempts = DefaultMaxConnectionAttempts
	}

	if c.PeerPolicy == nil {
		return func(rlink.EndpointID) rconn.Policy {
			return base
		}
	}

	override := c.PeerPolicy
	return func(ep rlink.EndpointID) rconn.Policy {
		pp := override(ep)
		p := rconn.Policy{
			MaxAttempts:  pp.MaxConnectionAttempts,
			ScanCooldown: pp.ScanCooldown,
		}
		if p.MaxAttempts == 0 {
			p.MaxAttempts = base.MaxAttempts
		}
		if err := p.Validate(); err != nil {
			log.Warn(
				"Ignoring invalid peer policy; using defaults",
				"endpoint", ep, "err", err,
			)
			return base
		}
		return p
	}
}

// NewNode returns a new Node with the given configuration.
// The ctx parameter controls the lifecycle of the Node;
// cancel the context to stop the node,
// and then use [(*Node).Wait] to block until all background work has completed.
//
// NewNode returns runtime errors that happen during initialization.
// Configuration errors cause a panic.
func NewNode(ctx context.Context, log *slog.Logger, cfg NodeConfig) (*Node, error) {
	cfg.validate()

	codec := cfg.Codec
	if codec == nil {
		codec = rtoken.EnvelopeCodec{}
	}

	rescan := cfg.RescanInterval
	if rescan == 0 {
		rescan = DefaultRescanInterval
	}

	// The kernel must be reading before the link starts,
	// as a link may report discoveries immediately.
	linkEvents := make(chan rlink.Event)

	ctx, cancel := context.WithCancelCause(ctx)

	k := rk.NewKernel(ctx, log.With("node_sys", "kernel"), rk.KernelConfig{
		Link:   cfg.Link,
		Engine: cfg.Engine,
		Codec:  codec,

		LinkEvents: linkEvents,

		Policy: cfg.policyFunc(log),

		RescanInterval: rescan,

		Changes: rpubsub.NewStream[rtable.Change](),
	})

	if err := cfg.Link.Start(ctx, linkEvents); err != nil {
		err = fmt.Errorf("failed to start link: %w", err)
		cancel(err)
		k.Wait()
		return nil, err
	}

	if err := cfg.Engine.Available(); err != nil {
		log.Warn("Ranging engine unavailable; discovery continues without ranging", "err", err)
	}

	n := &Node{
		log: log,

		k: k,

		link:   cfg.Link,
		engine: cfg.Engine,
	}

	n.wg.Add(1)
	go n.closeLinkOnDone(ctx, cancel)

	return n, nil
}

// closeLinkOnDone closes the link after the kernel has
// dropped every connection it was tracking.
func (n *Node) closeLinkOnDone(ctx context.Context, cancel context.CancelCauseFunc) {
	defer n.wg.Done()

	<-ctx.Done()
	n.k.Wait()

	if err := n.link.Close(); err != nil {
		n.log.Info("Error closing link", "err", err)
	}

	cancel(nil)
}

// Wait blocks until all of n's background work has completed.
// Cancel the context passed to [NewNode] first.
func (n *Node) Wait() {
	n.wg.Wait()
}

// Advertise begins or refreshes offering the local token
// to every connected peer, and re-issues a scan.
// It is safe to call at any time and any number of times;
// while ranging is inactive it only re-issues the scan.
func (n *Node) Advertise() {
	n.k.Advertise()
}

// Peers returns a copy of the current peer table.
func (n *Node) Peers(ctx context.Context) (rtable.Snapshot, error) {
	return n.k.Snapshot(ctx)
}

// Subscribe returns the current peer table
// and the stream of changes that follow it.
// The caller must keep advancing through the stream
// or drop its reference to it.
func (n *Node) Subscribe(ctx context.Context) (rtable.Snapshot, *rpubsub.Stream[rtable.Change], error) {
	sub, err := n.k.Subscribe(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sub.Snapshot, sub.Changes, nil
}

// RangingStatus returns nil while the engine can range,
// or a [RangingInactiveError].
func (n *Node) RangingStatus() error {
	if _, ok := n.engine.LocalToken(); ok {
		return nil
	}
	return RangingInactiveError{Cause: n.engine.Available()}
}

// ConnectionInfo describes one endpoint the Node is tracking.
type ConnectionInfo struct {
	Endpoint rlink.EndpointID
	State    string
	Attempts int

	TokenSent bool

	// Zero until the endpoint sent its token.
	RemoteToken     rtoken.Token
	TokenReceivedAt time.Time
}

// Connections reports every endpoint the Node is currently tracking.
func (n *Node) Connections(ctx context.Context) ([]ConnectionInfo, error) {
	cs, err := n.k.Connections(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ConnectionInfo, len(cs))
	for i, pc := range cs {
		out[i] = ConnectionInfo{
			Endpoint: pc.Endpoint,
			State:    pc.State.String(),
			Attempts: pc.AttemptCount,

			TokenSent: pc.TokenSent,

			RemoteToken:     pc.RemoteToken,
			TokenReceivedAt: pc.TokenReceivedAt,
		}
	}
	return out, nil
}
