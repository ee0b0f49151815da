package server

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"remotemouse/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins as this is a local network tool; the pairing token is
	// the admission check.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveHTTP serves the WebSocket and health endpoints over connections the
// sniffer identified as HTTP. Returns when the listener closes.
func (l *Listener) serveHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", l.handleWebSocket)
	mux.HandleFunc("/health", handleHealth)

	server := &http.Server{Handler: mux}
	if err := server.Serve(l.httpConns); err != nil && !l.isClosed() {
		log.Printf("Listener: HTTP server stopped: %v", err)
	}
}

// handleWebSocket upgrades the connection and runs the same pairing handshake
// as the raw transport. WebSocket messages map one-to-one onto frame payloads.
func (l *Listener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Listener: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	l.validate(&wsFrameConn{conn: conn})
}

// handleHealth handles GET /health (for probes and discovery)
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// wsFrameConn adapts a WebSocket connection to the framed transport. The
// WebSocket protocol already delimits messages, so payloads travel without
// the length prefix. Text messages are accepted so a client can send the
// pairing token as plain text.
type wsFrameConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsFrameConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		if len(data) == 0 {
			return nil, protocol.ErrEmptyFrame
		}
		if len(data) > protocol.MaxFrameSize {
			return nil, protocol.ErrFrameTooLarge
		}
		return data, nil
	}
}

func (c *wsFrameConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsFrameConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsFrameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsFrameConn) Close() error {
	return c.conn.Close()
}

// connQueue is a net.Listener fed by the protocol sniffer instead of a
// socket. The HTTP server accepts from it like any other listener.
type connQueue struct {
	ch   chan net.Conn
	addr net.Addr
	done chan struct{}
	once sync.Once
}

func newConnQueue(addr net.Addr) *connQueue {
	return &connQueue{
		ch:   make(chan net.Conn),
		addr: addr,
		done: make(chan struct{}),
	}
}

// push hands a sniffed connection to the HTTP server. Returns false when the
// queue is closed.
func (q *connQueue) push(conn net.Conn) bool {
	select {
	case q.ch <- conn:
		return true
	case <-q.done:
		return false
	}
}

func (q *connQueue) Accept() (net.Conn, error) {
	select {
	case conn := <-q.ch:
		return conn, nil
	case <-q.done:
		return nil, net.ErrClosed
	}
}

func (q *connQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *connQueue) Addr() net.Addr {
	return q.addr
}

// sniffedConn replays bytes buffered during protocol detection before
// reading from the underlying connection.
type sniffedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *sniffedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
