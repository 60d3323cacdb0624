// Package rrangingtest contains a controllable [rranging.Engine] for tests.
package rrangingtest

import (
	"sync"

	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtoken"
)

// Engine is a fake ranging engine.
//
// It records configured tokens,
// treating a repeated configuration of an active token as a no-op,
// and it delivers whatever events the test pushes with [*Engine.Push].
type Engine struct {
	// Configured receives every token that started a new session.
	Configured chan rtoken.Token

	mu       sync.Mutex
	local    rtoken.Token
	hasLocal bool
	active   map[rtoken.Key]struct{}
	calls    int
	unavail  error

	events chan rranging.Event
}

var _ rranging.Engine = (*Engine)(nil)

// New returns an Engine without a local token,
// matching an engine that has not started yet.
func New() *Engine {
	return &Engine{
		Configured: make(chan rtoken.Token, 64),

		active: map[rtoken.Key]struct{}{},

		events: make(chan rranging.Event),
	}
}

// NewWithToken returns an Engine whose local token is already available.
func NewWithToken(local rtoken.Token) *Engine {
	e := New()
	e.SetLocalToken(local)
	return e
}

// SetLocalToken makes tok available as the local token.
func (e *Engine) SetLocalToken(tok rtoken.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = tok
	e.hasLocal = true
}

// SetUnavailable makes Available return err.
func (e *Engine) SetUnavailable(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavail = err
}

func (e *Engine) LocalToken() (rtoken.Token, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local, e.hasLocal
}

func (e *Engine) Configure(tok rtoken.Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if _, ok := e.active[tok.Key()]; ok {
		return nil
	}
	e.active[tok.Key()] = struct{}{}

	select {
	case e.Configured <- tok:
	default:
		panic("rrangingtest: Configured buffer full")
	}
	return nil
}

// ActiveSessions reports how many distinct tokens have active sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// ConfigureCalls reports how many times Configure was called,
// including calls that were no-ops.
func (e *Engine) ConfigureCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Engine) Events() <-chan rranging.Event {
	return e.events
}

func (e *Engine) Available() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unavail
}

// Push returns the send side of the event channel,
// so tests can deliver events with rtest.SendSoon.
// Pushing a Removed event does not end the recorded session;
// use [*Engine.End] for that.
func (e *Engine) Push() chan<- rranging.Event {
	return e.events
}

// End forgets the active session for tok,
// so that a later Configure starts a new one.
func (e *Engine) End(tok rtoken.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, tok.Key())
}
