package server

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"remotemouse/internal/input"
	"remotemouse/internal/protocol"
	"remotemouse/internal/token"
)

// pairingTimeout is the window a new connection has to present the token.
// Fixed by the protocol, not configurable per call.
var pairingTimeout = 5 * time.Second

// Listener accepts controller connections on a single TCP port, validates
// the pairing token on the first message and promotes at most one connection
// to an active session.
//
// Two transports share the port: raw length-prefixed frames, and WebSocket
// (sniffed by the "GET " prefix of an HTTP upgrade request, served at /ws).
// Both carry identical frame payloads.
type Listener struct {
	issuer      *token.Issuer
	injector    input.Injector
	sensitivity float64

	ln        net.Listener
	httpConns *connQueue

	mu     sync.Mutex
	active *Session
	closed bool
}

func newListener(issuer *token.Issuer, injector input.Injector, sensitivity float64) *Listener {
	return &Listener{
		issuer:      issuer,
		injector:    injector,
		sensitivity: sensitivity,
	}
}

// bind listens on 0.0.0.0:<port> and returns the bound port. Binding tcp4
// explicitly avoids IPv6-only binding issues on Windows. Port 0 picks a free
// port.
func (l *Listener) bind(port int) (int, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return 0, err
	}
	l.ln = ln
	l.httpConns = newConnQueue(ln.Addr())
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// serve runs the accept loop until the listener is closed. A failure on any
// single connection never terminates the loop.
func (l *Listener) serve() {
	go l.serveHTTP()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Listener: accept error: %v", err)
			continue
		}
		go l.handleConn(conn)
	}
}

// handleConn sniffs the transport of a fresh connection and routes it to
// either the raw frame protocol or the HTTP/WebSocket server.
func (l *Listener) handleConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(pairingTimeout))

	br := bufio.NewReader(conn)
	head, err := br.Peek(4)
	if err != nil {
		log.Printf("Listener: dropping connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	if string(head) == "GET " {
		// HTTP upgrade request; replay the sniffed bytes into the HTTP server
		if !l.httpConns.push(&sniffedConn{Conn: conn, r: br}) {
			conn.Close()
		}
		return
	}

	l.validate(newTCPFrameConn(conn, br))
}

// validate runs the pairing handshake on a new connection: the first frame
// must carry the exact current token within the pairing timeout. Rejected or
// timed-out connections are closed without disturbing an active session.
func (l *Listener) validate(fc frameConn) {
	fc.SetReadDeadline(time.Now().Add(pairingTimeout))

	payload, err := fc.ReadFrame()
	if err != nil {
		log.Printf("Listener: pairing failed from %s: %v", fc.RemoteAddr(), err)
		fc.Close()
		return
	}

	if !l.issuer.Validate(string(payload)) {
		log.Printf("Listener: rejected pairing attempt from %s: wrong token", fc.RemoteAddr())
		fc.WriteFrame([]byte{protocol.ReplyPairingRejected})
		fc.Close()
		return
	}

	fc.SetReadDeadline(time.Time{})

	s := newSession(fc, l.injector, l.sensitivity, l.release)
	if !l.promote(s) {
		log.Printf("Listener: rejected pairing attempt from %s: another controller is active", fc.RemoteAddr())
		fc.WriteFrame([]byte{protocol.ReplyPairingRejected})
		fc.Close()
		return
	}

	if err := fc.WriteFrame([]byte{protocol.ReplyPairingAccepted}); err != nil {
		log.Printf("Listener: pairing reply to %s failed: %v", fc.RemoteAddr(), err)
		s.Close()
		return
	}

	s.activate()
	s.run()
}

// promote installs s as the active session. Exactly one session may be
// active; the first connection to finish validation wins.
func (l *Listener) promote(s *Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.active != nil {
		return false
	}
	l.active = s
	return true
}

// release frees the active-session slot so a new pairing can occur.
func (l *Listener) release(s *Session) {
	l.mu.Lock()
	if l.active == s {
		l.active = nil
	}
	l.mu.Unlock()
}

// activeSession returns the currently active session, if any.
func (l *Listener) activeSession() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// close tears the listener down: no new connections, the HTTP server stops,
// and any active session is closed (interrupting a blocked read). Idempotent.
func (l *Listener) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	active := l.active
	l.mu.Unlock()

	if active != nil {
		active.Close()
	}
	if l.httpConns != nil {
		l.httpConns.Close()
	}
	if l.ln != nil {
		l.ln.Close()
	}
}
