package server

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"remotemouse/internal/config"
	"remotemouse/internal/input"
	"remotemouse/internal/token"
)

// State is the process-wide lifecycle state of the server.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning is returned by Start when the server is not stopped.
	ErrAlreadyRunning = errors.New("server: already running")

	// ErrBindFailed wraps listen errors: the port is unavailable. Retry with
	// a different port or after the conflicting process exits.
	ErrBindFailed = errors.New("server: bind failed")
)

// Controller owns the listener lifecycle. It is the single writer of the
// server state; control surfaces (tray, window) only read state and call
// Start/Stop. All transitions are serialized under one mutex, so concurrent
// Start/Stop calls cannot double-bind or double-close a socket.
type Controller struct {
	mu         sync.Mutex
	state      State
	issuer     *token.Issuer
	injector   input.Injector
	cfgMgr     *config.Manager
	listener   *Listener
	descriptor token.Descriptor
	startedAt  time.Time
	subs       []func(State)
}

// NewController creates a controller in the Stopped state.
func NewController(cfgMgr *config.Manager, injector input.Injector) *Controller {
	return &Controller{
		state:    StateStopped,
		issuer:   token.NewIssuer(),
		injector: injector,
		cfgMgr:   cfgMgr,
	}
}

// Start binds the listener on the given port, mints a fresh pairing token and
// returns the connection descriptor for display. Fails with ErrAlreadyRunning
// unless the server is stopped, and with ErrBindFailed when the port cannot
// be bound (the server returns to Stopped). Port 0 picks a free port.
func (c *Controller) Start(port int) (token.Descriptor, error) {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return token.Descriptor{}, ErrAlreadyRunning
	}
	c.state = StateStarting

	l := newListener(c.issuer, c.injector, c.cfgMgr.Get().Sensitivity)

	boundPort, err := l.bind(port)
	if err != nil {
		c.state = StateStopped
		c.mu.Unlock()
		c.notify(StateStarting, StateStopped)
		return token.Descriptor{}, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	desc, err := c.issuer.Issue(boundPort)
	if err != nil {
		l.close()
		c.state = StateStopped
		c.mu.Unlock()
		c.notify(StateStarting, StateStopped)
		return token.Descriptor{}, err
	}

	c.listener = l
	c.descriptor = desc
	c.startedAt = time.Now()
	c.state = StateRunning
	c.mu.Unlock()

	go l.serve()

	c.notify(StateStarting, StateRunning)
	log.Printf("Server: running on %s", desc.Addr())
	return desc, nil
}

// Stop closes the active session and the listener socket, invalidating the
// pairing token. A no-op unless the server is running; idempotent and safe
// to call from any goroutine, including while a session read is blocked.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	l := c.listener
	c.listener = nil
	startedAt := c.startedAt
	c.issuer.Invalidate()
	c.mu.Unlock()

	c.notify(StateStopping)

	l.close()

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.notify(StateStopped)
	log.Printf("Server: stopped (uptime %s)", time.Since(startedAt).Round(time.Second))
}

// Status returns the current lifecycle state. Non-blocking; safe to poll
// from a UI.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Descriptor returns the connection descriptor of the running server. The
// second return is false when the server is not running.
func (c *Controller) Descriptor() (token.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptor, c.state == StateRunning
}

// Uptime returns how long the server has been running, or zero when stopped.
func (c *Controller) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return 0
	}
	return time.Since(c.startedAt)
}

// ActiveSession returns the currently active session, if any.
func (c *Controller) ActiveSession() *Session {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.activeSession()
}

// Subscribe registers a callback invoked on every state transition, letting
// a tray icon or window reflect running/stopped without polling. Callbacks
// run synchronously on the transitioning goroutine and must not block.
func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// notify delivers transitions outside the state lock so a callback may call
// back into Status or Stop.
func (c *Controller) notify(states ...State) {
	c.mu.Lock()
	subs := make([]func(State), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, st := range states {
		for _, fn := range subs {
			fn(st)
		}
	}
}
