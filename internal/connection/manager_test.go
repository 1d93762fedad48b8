package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// testConfig keeps delays short and the breaker out of the way unless a
// test wants it.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.MaxRetryDelay = 20 * time.Millisecond
	cfg.BreakerFailureThreshold = 100
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	cfg.MaxReconnectAttempts = 3
	return cfg
}

func TestManager_ConnectAndSend(t *testing.T) {
	var mu sync.Mutex
	var received []byte

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := m.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}

	if err := m.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		got := string(received)
		mu.Unlock()
		if got == "hello" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("server received %q, want %q", got, "hello")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Disconnect(ctx)
}

func TestManager_ConnectNoOpWhenOpen(t *testing.T) {
	var dials atomic.Int32

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}

	m.Disconnect(ctx)
}

func TestManager_ConnectRetriesThenFails(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	m := NewManager(cfg, nil)

	err := m.Connect(context.Background(), wsURL(server), nil)
	if err == nil {
		t.Fatal("Connect succeeded against a failing endpoint")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempted %d dials, want maxRetries+1 = 3", got)
	}
	if got := m.State(); got == StateOpen {
		t.Errorf("State() = %v after failed connect", got)
	}
}

func TestManager_ConfigureCallbackSetsHeaders(t *testing.T) {
	var gotAuth atomic.Value

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	m := NewManager(testConfig(), nil)
	err := m.Connect(context.Background(), wsURL(server), func(d *websocket.Dialer, h http.Header) {
		h.Set("Authorization", "Bearer token123")
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(context.Background())

	if got := gotAuth.Load(); got != "Bearer token123" {
		t.Errorf("Authorization = %v, want Bearer token123", got)
	}
}

func TestManager_ReceiveLoopDeliversMessages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range []string{"one", "two", "three"} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(ctx)

	var mu sync.Mutex
	var got []string
	err := m.StartReceiveLoop(ctx, func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("StartReceiveLoop failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %d messages, want 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("message %d = %q, want %q", i, got[i], w)
		}
	}
}

func TestManager_ReceiveLoopIsolatesHandlerPanic(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("bad"))
		conn.WriteMessage(websocket.TextMessage, []byte("good"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(ctx)

	survived := make(chan struct{})
	err := m.StartReceiveLoop(ctx, func(data []byte) {
		if string(data) == "bad" {
			panic("handler fault")
		}
		close(survived)
	})
	if err != nil {
		t.Fatalf("StartReceiveLoop failed: %v", err)
	}

	select {
	case <-survived:
	case <-time.After(time.Second):
		t.Fatal("receive loop did not survive handler panic")
	}
}

func TestManager_ReceiveLoopCloseFrame(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	states := make(chan State, 8)
	m.OnStateChanged(func(s State) { states <- s })

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(ctx)

	if err := m.StartReceiveLoop(ctx, func([]byte) {}); err != nil {
		t.Fatalf("StartReceiveLoop failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-states:
			if s == StateCloseReceived {
				return
			}
		case <-deadline:
			t.Fatal("never observed StateCloseReceived")
		}
	}
}

func TestManager_ReceiveLoopAbruptSocketDeath(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("warm"))
		// Kill the TCP stream without a close handshake. The peer
		// sees this as CloseError 1006, not a close frame.
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	states := make(chan State, 8)
	m.OnStateChanged(func(s State) { states <- s })
	var lost atomic.Int32
	m.OnConnectionLost(func() { lost.Add(1) })

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(ctx)

	if err := m.StartReceiveLoop(ctx, func([]byte) {}); err != nil {
		t.Fatalf("StartReceiveLoop failed: %v", err)
	}

	deadline := time.After(time.Second)
waitAborted:
	for {
		select {
		case s := <-states:
			switch s {
			case StateCloseReceived:
				t.Fatal("abrupt socket death classified as a received close frame")
			case StateAborted:
				break waitAborted
			}
		case <-deadline:
			t.Fatal("never observed StateAborted after socket death")
		}
	}

	// The lost signal must come from the read fault, well before any
	// heartbeat timeout could notice the silence.
	promptly := time.After(500 * time.Millisecond)
	for lost.Load() == 0 {
		select {
		case <-promptly:
			t.Fatal("ConnectionLost not fired promptly on socket fault")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_ConnectAfterFaultStartsCleanEpisode(t *testing.T) {
	faulty := mockWSServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	defer faulty.Close()

	healthy := mockWSServer(t, func(conn *websocket.Conn) {
		// Reading keeps gorilla's default ping handler answering, so
		// the new episode's heartbeat stays fed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer healthy.Close()

	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	m := NewManager(cfg, nil)
	ctx := context.Background()

	var lost atomic.Int32
	m.OnConnectionLost(func() { lost.Add(1) })

	if err := m.Connect(ctx, wsURL(faulty), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.StartReceiveLoop(ctx, func([]byte) {}); err != nil {
		t.Fatalf("StartReceiveLoop failed: %v", err)
	}

	deadline := time.After(time.Second)
	for m.State() != StateAborted {
		select {
		case <-deadline:
			t.Fatalf("State() = %v, want %v after socket death", m.State(), StateAborted)
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Direct re-Connect without Disconnect must replace the dead
	// episode wholesale.
	if err := m.Connect(ctx, wsURL(healthy), nil); err != nil {
		t.Fatalf("re-Connect failed: %v", err)
	}
	defer m.Disconnect(ctx)

	if err := m.StartReceiveLoop(ctx, func([]byte) {}); err != nil {
		t.Errorf("StartReceiveLoop after re-Connect = %v, want nil", err)
	}

	// The dead episode's heartbeat must not fire against the healthy
	// connection. Several heartbeat timeouts of quiet observation.
	baseline := lost.Load()
	time.Sleep(250 * time.Millisecond)
	if got := lost.Load(); got != baseline {
		t.Errorf("ConnectionLost fired %d more time(s) on a healthy connection", got-baseline)
	}
	if got := m.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
}

func TestManager_SendWhenNotConnected(t *testing.T) {
	m := NewManager(testConfig(), nil)

	// Best-effort contract: dropped with a log line, no error.
	if err := m.Send(context.Background(), []byte("dropped")); err != nil {
		t.Errorf("Send returned %v, want nil", err)
	}
}

func TestManager_StartReceiveLoopBeforeConnect(t *testing.T) {
	m := NewManager(testConfig(), nil)

	err := m.StartReceiveLoop(context.Background(), func([]byte) {})
	if err != ErrNotConnected {
		t.Errorf("StartReceiveLoop = %v, want ErrNotConnected", err)
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	if err := m.Connect(ctx, wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := m.Disconnect(ctx); err != nil {
			t.Errorf("Disconnect #%d returned %v", i+1, err)
		}
		if got := m.State(); got != StateClosed {
			t.Errorf("State() after Disconnect #%d = %v, want %v", i+1, got, StateClosed)
		}
	}
}

func TestManager_TryReconnectGate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.MaxReconnectAttempts = 2
	cfg.RetryBaseDelay = 200 * time.Millisecond
	cfg.MaxRetryDelay = 400 * time.Millisecond
	m := NewManager(cfg, nil)

	ctx := context.Background()
	primary := make(chan bool, 1)
	go func() {
		// Unroutable port keeps the primary reconnect busy.
		primary <- m.TryReconnect(ctx, "ws://127.0.0.1:1", nil, nil)
	}()

	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if m.TryReconnect(ctx, "ws://127.0.0.1:1", nil, nil) {
		t.Error("concurrent TryReconnect succeeded, want immediate false")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("concurrent TryReconnect blocked for %v, want immediate return", elapsed)
	}

	if <-primary {
		t.Error("primary TryReconnect succeeded against unroutable address")
	}
}

func TestManager_TryReconnectSecondAttemptSucceeds(t *testing.T) {
	var requests atomic.Int32

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0 // one dial per reconnect attempt
	m := NewManager(cfg, nil)

	var reconnectedAttempt atomic.Int32
	m.OnReconnected(func(attempt int) { reconnectedAttempt.Store(int32(attempt)) })

	var hookCalls atomic.Int32
	ok := m.TryReconnect(context.Background(), wsURL(server), nil, func() {
		hookCalls.Add(1)
	})

	if !ok {
		t.Fatal("TryReconnect returned false")
	}
	if got := reconnectedAttempt.Load(); got != 2 {
		t.Errorf("Reconnected attempt = %d, want 2", got)
	}
	if got := hookCalls.Load(); got != 1 {
		t.Errorf("onReconnected invoked %d times, want 1", got)
	}

	m.Disconnect(context.Background())
}

func TestManager_TryReconnectExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.MaxReconnectAttempts = 2
	m := NewManager(cfg, nil)

	if m.TryReconnect(context.Background(), "ws://127.0.0.1:1", nil, nil) {
		t.Error("TryReconnect succeeded against unroutable address")
	}
}

func TestManager_HeartbeatLossFiresConnectionLost(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Silent server: never writes, never pongs.
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 30 * time.Millisecond
	m := NewManager(cfg, nil)

	var lost atomic.Int32
	m.OnConnectionLost(func() { lost.Add(1) })

	if err := m.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(context.Background())

	deadline := time.After(time.Second)
	for lost.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("ConnectionLost never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A lost episode signals exactly once.
	time.Sleep(100 * time.Millisecond)
	if got := lost.Load(); got != 1 {
		t.Errorf("ConnectionLost fired %d times, want 1", got)
	}
}

func TestManager_RecordPongKeepsConnectionAlive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	m := NewManager(cfg, nil)

	var lost atomic.Int32
	m.OnConnectionLost(func() { lost.Add(1) })

	if err := m.Connect(context.Background(), wsURL(server), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect(context.Background())

	for i := 0; i < 15; i++ {
		m.RecordPongReceived()
		time.Sleep(10 * time.Millisecond)
	}

	if got := lost.Load(); got != 0 {
		t.Errorf("ConnectionLost fired %d times while pongs arrived, want 0", got)
	}
}
