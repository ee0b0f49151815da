package server

import (
	"bufio"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remotemouse/internal/input"
	"remotemouse/internal/protocol"
)

// maxDecodeFailures is the number of consecutive malformed messages after
// which a session is forcibly closed. A single bad frame is dropped and the
// loop continues; a client stuck emitting garbage gets disconnected.
const maxDecodeFailures = 3

// SessionState tracks a client connection through its lifetime.
type SessionState int32

const (
	SessionValidating SessionState = iota
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionValidating:
		return "validating"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// frameConn abstracts the transport a session reads framed messages from.
// Raw TCP connections and WebSocket connections both satisfy it.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// tcpFrameConn speaks the length-prefixed protocol over a stream connection.
type tcpFrameConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTCPFrameConn(conn net.Conn, r *bufio.Reader) *tcpFrameConn {
	if r == nil {
		r = bufio.NewReader(conn)
	}
	return &tcpFrameConn{conn: conn, r: r}
}

func (c *tcpFrameConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(c.r)
}

func (c *tcpFrameConn) WriteFrame(payload []byte) error {
	return protocol.WriteFrame(c.conn, payload)
}

func (c *tcpFrameConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpFrameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpFrameConn) Close() error {
	return c.conn.Close()
}

// Session is one validated controller connection and its message loop. It
// decodes framed input events and forwards them to the injector until the
// client disconnects, too many malformed messages arrive, or the server is
// stopped.
type Session struct {
	id           string
	conn         frameConn
	injector     input.Injector
	sensitivity  float64
	state        atomic.Int32
	lastActivity atomic.Int64
	onClose      func(*Session)
	closeOnce    sync.Once
}

func newSession(conn frameConn, injector input.Injector, sensitivity float64, onClose func(*Session)) *Session {
	if sensitivity <= 0 {
		sensitivity = 1.0
	}
	s := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		injector:    injector,
		sensitivity: sensitivity,
		onClose:     onClose,
	}
	s.state.Store(int32(SessionValidating))
	s.touch()
	return s
}

// activate marks the session as past validation. Called by the listener once
// the pairing handshake has succeeded, before the message loop starts.
func (s *Session) activate() {
	s.state.CompareAndSwap(int32(SessionValidating), int32(SessionActive))
}

// ID returns the session's unique identifier, used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// LastActivity returns the time the last message arrived.
func (s *Session) LastActivity() time.Time {
	return time.UnixMilli(s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
}

// run is the session's message loop. It exits when the connection drops, the
// decode failure threshold is hit, or Close is called from another goroutine.
func (s *Session) run() {
	log.Printf("Session %s: active (%s)", s.id, s.conn.RemoteAddr())

	failures := 0
	for {
		payload, err := s.conn.ReadFrame()
		if err != nil {
			// Frame-layer malformations fault only the offending message;
			// the stream itself is still in sync.
			if errors.Is(err, protocol.ErrEmptyFrame) || errors.Is(err, protocol.ErrFrameTooLarge) {
				s.touch()
				failures++
				log.Printf("Session %s: dropping malformed message (%d/%d): %v",
					s.id, failures, maxDecodeFailures, err)
				if failures >= maxDecodeFailures {
					log.Printf("Session %s: too many malformed messages, closing", s.id)
					break
				}
				continue
			}
			if s.State() != SessionClosed {
				log.Printf("Session %s: read ended: %v", s.id, err)
			}
			break
		}
		s.touch()

		ev, err := protocol.DecodeEvent(payload)
		if err != nil {
			failures++
			log.Printf("Session %s: dropping malformed message (%d/%d): %v",
				s.id, failures, maxDecodeFailures, err)
			if failures >= maxDecodeFailures {
				log.Printf("Session %s: too many malformed messages, closing", s.id)
				break
			}
			continue
		}
		failures = 0

		s.dispatch(ev)
	}

	s.Close()
}

// dispatch forwards one decoded event to the injector. Injection failures are
// logged and absorbed; a single refused event must not drop the connection.
func (s *Session) dispatch(ev *protocol.Event) {
	var err error
	switch ev.Type {
	case protocol.EventMoveRelative:
		dx := int(float64(ev.DeltaX) * s.sensitivity)
		dy := int(float64(ev.DeltaY) * s.sensitivity)
		err = s.injector.MoveCursor(dx, dy)
	case protocol.EventMoveAbsolute:
		err = s.injector.SetCursorPos(int(ev.X), int(ev.Y))
	case protocol.EventClick:
		err = s.injector.Click(int(ev.Button), ev.Pressed)
	case protocol.EventScroll:
		err = s.injector.Scroll(int(ev.DeltaX), int(ev.DeltaY))
	case protocol.EventKey:
		err = s.injector.KeyEvent(ev.KeyCode, ev.Pressed)
	}
	if err != nil {
		log.Printf("Session %s: injection failed for event 0x%02X: %v", s.id, ev.Type, err)
	}
}

// Close transitions the session to Closed, closes the underlying connection
// (which unblocks a pending read) and releases the active-session slot. Safe
// to call from any goroutine and idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
		log.Printf("Session %s: closed", s.id)
	})
}
