package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"remotemouse/internal/config"
	"remotemouse/internal/protocol"
	"remotemouse/internal/token"
)

func testController(t *testing.T) *Controller {
	t.Helper()

	cfgMgr, err := config.NewManager()
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}

	c := NewController(cfgMgr, &fakeInjector{})
	// Descriptors in tests always point at loopback so no real interface is
	// needed.
	c.issuer.Lookup = func() (string, error) { return "127.0.0.1", nil }
	t.Cleanup(c.Stop)
	return c
}

func startController(t *testing.T) (*Controller, token.Descriptor) {
	t.Helper()
	c := testController(t)
	desc, err := c.Start(0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, desc
}

// pair dials the server and completes the token handshake, returning the
// connection and the one-byte pairing reply.
func pair(t *testing.T, desc token.Descriptor, tok string) (net.Conn, uint8) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", desc.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", desc.Addr(), err)
	}

	if err := protocol.WriteFrame(conn, []byte(tok)); err != nil {
		conn.Close()
		t.Fatalf("send token: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := protocol.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		conn.Close()
		t.Fatalf("read pairing reply: %v", err)
	}
	conn.SetReadDeadline(time.Time{})
	return conn, reply[0]
}

func TestStartStopLifecycle(t *testing.T) {
	c := testController(t)

	if c.Status() != StateStopped {
		t.Fatalf("initial state = %v, want stopped", c.Status())
	}

	desc, err := c.Start(0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Status() != StateRunning {
		t.Errorf("state after Start = %v, want running", c.Status())
	}
	if desc.Port == 0 {
		t.Error("descriptor carries no bound port")
	}
	if len(desc.Token) != token.Length {
		t.Errorf("token length %d, want %d", len(desc.Token), token.Length)
	}
	if c.Uptime() <= 0 {
		t.Error("Uptime should be positive while running")
	}

	c.Stop()
	if c.Status() != StateStopped {
		t.Errorf("state after Stop = %v, want stopped", c.Status())
	}
	if c.Uptime() != 0 {
		t.Error("Uptime should be zero when stopped")
	}
}

func TestStartWhileRunning(t *testing.T) {
	c, desc := startController(t)

	if _, err := c.Start(0); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start: got %v, want ErrAlreadyRunning", err)
	}

	// The original listener must be undisturbed.
	conn, reply := pair(t, desc, desc.Token)
	defer conn.Close()
	if reply != protocol.ReplyPairingAccepted {
		t.Errorf("pairing reply = 0x%02X, want accepted", reply)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, _ := startController(t)

	c.Stop()
	c.Stop() // second call must be a silent no-op
	if c.Status() != StateStopped {
		t.Errorf("state = %v, want stopped", c.Status())
	}
}

func TestStartBindFailed(t *testing.T) {
	ln, err := net.Listen("tcp4", "0.0.0.0:0")
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	c := testController(t)
	if _, err := c.Start(busy); !errors.Is(err, ErrBindFailed) {
		t.Fatalf("Start on busy port: got %v, want ErrBindFailed", err)
	}
	if c.Status() != StateStopped {
		t.Errorf("state after bind failure = %v, want stopped", c.Status())
	}
}

func TestStateNotifications(t *testing.T) {
	c := testController(t)

	var mu sync.Mutex
	var seen []State
	c.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	if _, err := c.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateRunning, StateStopping, StateStopped}
	if len(seen) != len(want) {
		t.Fatalf("transitions %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions %v, want %v", seen, want)
		}
	}
}

func TestPairingWithValidToken(t *testing.T) {
	c, desc := startController(t)

	conn, reply := pair(t, desc, desc.Token)
	defer conn.Close()

	if reply != protocol.ReplyPairingAccepted {
		t.Fatalf("pairing reply = 0x%02X, want accepted", reply)
	}
	waitFor(t, "active session", func() bool { return c.ActiveSession() != nil })

	// A paired controller can drive the injector.
	inj := c.injector.(*fakeInjector)
	if err := protocol.WriteFrame(conn, protocol.EncodeEvent(&protocol.Event{
		Type: protocol.EventMoveRelative, DeltaX: 5, DeltaY: -3,
	})); err != nil {
		t.Fatalf("send event: %v", err)
	}
	waitFor(t, "injected move", func() bool { return len(inj.snapshot()) == 1 })
	if got := inj.snapshot()[0]; got != "move 5 -3" {
		t.Errorf("injector call = %q, want %q", got, "move 5 -3")
	}
}

func TestPairingWithWrongToken(t *testing.T) {
	c, desc := startController(t)

	conn, reply := pair(t, desc, "WRONGTOKENWRONGTOKENWRONGT")
	defer conn.Close()

	if reply != protocol.ReplyPairingRejected {
		t.Fatalf("pairing reply = 0x%02X, want rejected", reply)
	}
	if c.ActiveSession() != nil {
		t.Error("failed pairing must not create a session")
	}

	// The connection is closed after the rejection.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadFrame(bufio.NewReader(conn)); err == nil {
		t.Error("expected closed connection after rejection")
	}
}

func TestPairingTimeout(t *testing.T) {
	orig := pairingTimeout
	pairingTimeout = 200 * time.Millisecond
	defer func() { pairingTimeout = orig }()

	c, desc := startController(t)

	conn, err := net.DialTimeout("tcp", desc.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Send nothing; the server must close the connection after the window.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected connection close after pairing timeout")
	}
	if c.ActiveSession() != nil {
		t.Error("timed-out pairing must not create a session")
	}
}

func TestSingleActiveSession(t *testing.T) {
	c, desc := startController(t)

	first, reply := pair(t, desc, desc.Token)
	defer first.Close()
	if reply != protocol.ReplyPairingAccepted {
		t.Fatalf("first pairing rejected")
	}
	waitFor(t, "active session", func() bool { return c.ActiveSession() != nil })

	second, reply := pair(t, desc, desc.Token)
	defer second.Close()
	if reply != protocol.ReplyPairingRejected {
		t.Errorf("second pairing reply = 0x%02X, want rejected while a controller is active", reply)
	}
}

// TestConcurrentPairingRace fires many concurrent connections with the valid
// token; exactly one may win the single controller slot.
func TestConcurrentPairingRace(t *testing.T) {
	c, desc := startController(t)

	const n = 8
	accepted := make(chan net.Conn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", desc.Addr(), 2*time.Second)
			if err != nil {
				return
			}
			if err := protocol.WriteFrame(conn, []byte(desc.Token)); err != nil {
				conn.Close()
				return
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			reply, err := protocol.ReadFrame(bufio.NewReader(conn))
			if err != nil || reply[0] != protocol.ReplyPairingAccepted {
				conn.Close()
				return
			}
			accepted <- conn
		}()
	}
	wg.Wait()
	close(accepted)

	wins := 0
	for conn := range accepted {
		wins++
		defer conn.Close()
	}
	if wins != 1 {
		t.Errorf("%d connections became active, want exactly 1", wins)
	}
	if c.ActiveSession() == nil {
		t.Error("no active session after the race")
	}
}

func TestListenerSurvivesSessionClose(t *testing.T) {
	c, desc := startController(t)

	// Pair, poison the session with consecutive garbage, and verify a new
	// pairing still works.
	first, reply := pair(t, desc, desc.Token)
	defer first.Close()
	if reply != protocol.ReplyPairingAccepted {
		t.Fatalf("first pairing rejected")
	}
	waitFor(t, "active session", func() bool { return c.ActiveSession() != nil })

	for i := 0; i < maxDecodeFailures; i++ {
		if err := protocol.WriteFrame(first, []byte{0x7F}); err != nil {
			t.Fatalf("write garbage: %v", err)
		}
	}
	waitFor(t, "slot released", func() bool { return c.ActiveSession() == nil })

	second, reply := pair(t, desc, desc.Token)
	defer second.Close()
	if reply != protocol.ReplyPairingAccepted {
		t.Errorf("re-pairing after session close rejected")
	}
}

func TestStopInterruptsActiveSession(t *testing.T) {
	c, desc := startController(t)

	conn, reply := pair(t, desc, desc.Token)
	defer conn.Close()
	if reply != protocol.ReplyPairingAccepted {
		t.Fatalf("pairing rejected")
	}
	waitFor(t, "active session", func() bool { return c.ActiveSession() != nil })

	// The session is blocked reading; Stop must not wait for the client.
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on an active session read")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("client connection should be closed after Stop")
	}
}

func TestTokenInvalidAfterRestart(t *testing.T) {
	c, desc := startController(t)
	oldToken := desc.Token

	c.Stop()
	desc2, err := c.Start(0)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if desc2.Token == oldToken {
		t.Fatal("restart reused the previous pairing token")
	}

	conn, reply := pair(t, desc2, oldToken)
	defer conn.Close()
	if reply != protocol.ReplyPairingRejected {
		t.Errorf("old token accepted after restart")
	}
}

func TestWebSocketPairingAndEvents(t *testing.T) {
	c, desc := startController(t)

	url := fmt.Sprintf("ws://%s/ws", desc.Addr())
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer ws.Close()

	// Token goes out as a plain text message; the reply comes back binary.
	if err := ws.WriteMessage(websocket.TextMessage, []byte(desc.Token)); err != nil {
		t.Fatalf("send token: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read pairing reply: %v", err)
	}
	if reply[0] != protocol.ReplyPairingAccepted {
		t.Fatalf("pairing reply = 0x%02X, want accepted", reply[0])
	}

	// An empty message is dropped as malformed, not treated as a disconnect.
	if err := ws.WriteMessage(websocket.TextMessage, []byte{}); err != nil {
		t.Fatalf("send empty message: %v", err)
	}

	inj := c.injector.(*fakeInjector)
	ev := protocol.EncodeEvent(&protocol.Event{Type: protocol.EventClick, Button: protocol.ButtonRight, Pressed: true})
	if err := ws.WriteMessage(websocket.BinaryMessage, ev); err != nil {
		t.Fatalf("send event: %v", err)
	}
	waitFor(t, "injected click", func() bool { return len(inj.snapshot()) == 1 })
	if got := inj.snapshot()[0]; got != "click 2 true" {
		t.Errorf("injector call = %q, want %q", got, "click 2 true")
	}
	if c.ActiveSession() == nil {
		t.Error("session closed after a single empty message")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, desc := startController(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", desc.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}
}
