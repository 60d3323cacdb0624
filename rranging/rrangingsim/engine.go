// Package rrangingsim contains a simulated [rranging.Engine].
//
// The simulation is useful for exercising the radar stack on machines
// without ranging hardware: every configured peer drifts through a
// bounded random walk, and direction is occasionally unresolved.
package rrangingsim

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtoken"
)

// Config is the configuration for [New].
type Config struct {
	// How often each configured peer produces a measurement.
	// Defaults to 200ms.
	Interval time.Duration

	// Delay before the local token becomes available.
	// Zero makes the token available immediately.
	StartDelay time.Duration

	// Size of the generated local token. Defaults to 32.
	TokenSize int

	// Upper bound on simulated distance, in meters. Defaults to 10.
	MaxDistance float64

	// Probability in [0, 1] that an update has no direction.
	DirectionlessRate float64

	// Source of randomness for the walk.
	// If nil, a randomly seeded PCG is used.
	RNG *mrand.Rand
}

type session struct {
	tok      rtoken.Token
	distance float64
	dir      rranging.Direction
}

type pendingRemoval struct {
	tok    rtoken.Token
	reason rranging.RemovalReason
}

// Engine is a simulated ranging engine.
type Engine struct {
	log *slog.Logger
	cfg Config

	events chan rranging.Event

	mu       sync.Mutex
	local    rtoken.Token
	hasLocal bool
	sessions map[rtoken.Key]*session
	removals []pendingRemoval

	done chan struct{}
}

var _ rranging.Engine = (*Engine)(nil)

// New starts a simulated engine whose lifecycle is bound to ctx.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Engine, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.TokenSize <= 0 {
		cfg.TokenSize = 32
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = 10
	}
	if cfg.RNG == nil {
		cfg.RNG = mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	}

	raw := make([]byte, cfg.TokenSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate local token: %w", err)
	}

	e := &Engine{
		log: log,
		cfg: cfg,

		events: make(chan rranging.Event),

		local:    rtoken.New(raw),
		sessions: map[rtoken.Key]*session{},

		done: make(chan struct{}),
	}

	if cfg.StartDelay <= 0 {
		e.hasLocal = true
	}

	go e.mainLoop(ctx)

	return e, nil
}

// Wait blocks until the engine's background goroutine has stopped.
func (e *Engine) Wait() {
	<-e.done
}

func (e *Engine) LocalToken() (rtoken.Token, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local, e.hasLocal
}

func (e *Engine) Available() error {
	return nil
}

func (e *Engine) Events() <-chan rranging.Event {
	return e.events
}

func (e *Engine) Configure(tok rtoken.Token) error {
	if tok.IsZero() {
		return fmt.Errorf("cannot configure empty token")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[tok.Key()]; ok {
		return nil
	}

	e.sessions[tok.Key()] = &session{
		tok:      tok,
		distance: e.cfg.RNG.Float64() * e.cfg.MaxDistance,
		dir:      e.randomDirection(),
	}
	e.log.Debug("Configured simulated session", "token", tok)
	return nil
}

// Remove ends the session for tok, if any,
// and emits a Removed event with the given reason on the next tick.
func (e *Engine) Remove(tok rtoken.Token, reason rranging.RemovalReason) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[tok.Key()]; !ok {
		return
	}
	delete(e.sessions, tok.Key())
	e.removals = append(e.removals, pendingRemoval{tok: tok, reason: reason})
}

func (e *Engine) mainLoop(ctx context.Context) {
	defer close(e.done)

	var startC <-chan time.Time
	if e.cfg.StartDelay > 0 {
		startTimer := time.NewTimer(e.cfg.StartDelay)
		defer startTimer.Stop()
		startC = startTimer.C
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case <-startC:
			e.mu.Lock()
			e.hasLocal = true
			e.mu.Unlock()
			e.log.Info("Local token available", "token", e.local)

		case <-ticker.C:
			for _, ev := range e.step() {
				select {
				case <-ctx.Done():
					return
				case e.events <- ev:
				}
			}
		}
	}
}

// step advances every session by one tick
// and returns the events to deliver.
// The lock is not held while delivering,
// so Configure never waits on the consumer.
func (e *Engine) step() []rranging.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]rranging.Event, 0, len(e.removals)+len(e.sessions))
	for _, r := range e.removals {
		out = append(out, rranging.Event{
			Kind:   rranging.Removed,
			Token:  r.tok,
			Reason: r.reason,
		})
	}
	e.removals = e.removals[:0]

	for _, s := range e.sessions {
		s.distance += (e.cfg.RNG.Float64() - 0.5) * 0.2
		s.distance = min(max(s.distance, 0), e.cfg.MaxDistance)

		ev := rranging.Event{
			Kind:     rranging.Updated,
			Token:    s.tok,
			Distance: s.distance,
		}
		if e.cfg.RNG.Float64() >= e.cfg.DirectionlessRate {
			s.dir = e.nudge(s.dir)
			d := s.dir
			ev.Direction = &d
		}
		out = append(out, ev)
	}

	return out
}

func (e *Engine) randomDirection() rranging.Direction {
	return normalize(rranging.Direction{
		X: e.cfg.RNG.Float64()*2 - 1,
		Y: e.cfg.RNG.Float64()*2 - 1,
		Z: e.cfg.RNG.Float64()*2 - 1,
	})
}

func (e *Engine) nudge(d rranging.Direction) rranging.Direction {
	const jitter = 0.05
	return normalize(rranging.Direction{
		X: d.X + (e.cfg.RNG.Float64()*2-1)*jitter,
		Y: d.Y + (e.cfg.RNG.Float64()*2-1)*jitter,
		Z: d.Z + (e.cfg.RNG.Float64()*2-1)*jitter,
	})
}
