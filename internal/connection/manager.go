package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mwhitt/feedlink/internal/resilience"
)

// newReconnectBackOff builds the reconnect delay schedule:
// base * 2^(attempt-1), randomized by ±20%, capped at max.
func newReconnectBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Manager maintains a single long-lived duplex connection to a remote
// endpoint. It owns the socket handle exclusively: connect attempts run
// inside the resilience pipeline, inbound silence is detected by a
// heartbeat monitor, and reconnection is gated so only one procedure
// runs at a time.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	pipeline resilience.Pipeline

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	hb         *heartbeat
	recvCancel context.CancelFunc
	recvDone   chan struct{}
	episode    string // correlation ID for the current connection episode

	// Reconnection gate: try-acquire, never queue. Duplicate triggers
	// (heartbeat timeout racing a receive-loop fault) are expected and
	// must be deduplicated without stacking delays.
	reconnectMu sync.Mutex

	writeMu sync.Mutex

	cbMu             sync.Mutex
	onStateChanged   []func(State)
	onConnectionLost []func()
	onReconnected    []func(attempt int)
}

// NewManager creates a connection manager. The resilience pipeline is
// built once from cfg and shared across all connect attempts, so
// repeated failures accumulate toward opening the circuit.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	pipeline := resilience.NewPipeline(resilience.Config{
		MaxRetries:              cfg.MaxRetries,
		RetryBaseDelay:          cfg.RetryBaseDelay,
		MaxRetryDelay:           cfg.MaxRetryDelay,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenDuration:     cfg.BreakerOpenDuration,
		OperationTimeout:        cfg.OperationTimeout,
	}, logger)

	return &Manager{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline,
		state:    StateNone,
	}
}

// OnStateChanged registers a listener for state transitions.
func (m *Manager) OnStateChanged(fn func(State)) {
	m.cbMu.Lock()
	m.onStateChanged = append(m.onStateChanged, fn)
	m.cbMu.Unlock()
}

// OnConnectionLost registers a listener for lost-connection signals.
func (m *Manager) OnConnectionLost(fn func()) {
	m.cbMu.Lock()
	m.onConnectionLost = append(m.onConnectionLost, fn)
	m.cbMu.Unlock()
}

// OnReconnected registers a listener invoked with the attempt count
// after a successful reconnection.
func (m *Manager) OnReconnected(fn func(attempt int)) {
	m.cbMu.Lock()
	m.onReconnected = append(m.onReconnected, fn)
	m.cbMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the connection to addr. It is a no-op when the
// connection is already open. Transient dial failures are retried by
// the pipeline; exhaustion or an open circuit surfaces as an error.
func (m *Manager) Connect(ctx context.Context, addr string, configure ConfigureFunc) error {
	m.mu.Lock()
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	// A previous episode may have left a dead socket, a finished
	// receive loop, and an armed heartbeat behind. Tear all of it
	// down so the new episode starts from a clean slate.
	staleConn := m.conn
	staleHB := m.hb
	staleCancel := m.recvCancel
	m.conn = nil
	m.hb = nil
	m.recvCancel = nil
	m.recvDone = nil
	m.episode = ""
	m.state = StateConnecting
	m.mu.Unlock()

	if staleHB != nil {
		staleHB.disarm()
		staleHB.stop()
	}
	if staleCancel != nil {
		staleCancel()
	}
	if staleConn != nil {
		staleConn.Close()
	}

	var conn *websocket.Conn
	err := m.pipeline.Execute(ctx, func(ctx context.Context) error {
		dialer := &websocket.Dialer{
			HandshakeTimeout: m.cfg.HandshakeTimeout,
		}
		header := http.Header{}
		if configure != nil {
			configure(dialer, header)
		}

		c, resp, err := dialer.DialContext(ctx, addr, header)
		if err != nil {
			// Release anything half-open before the next attempt.
			if c != nil {
				c.Close()
			}
			if resp != nil {
				resp.Body.Close()
				return &resilience.StatusError{
					StatusCode: resp.StatusCode,
					Status:     resp.Status,
				}
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		m.mu.Lock()
		m.state = StateNone
		m.mu.Unlock()
		m.logger.Error("connect failed", "addr", addr, "error", err)
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	episode := uuid.NewString()
	hb := newHeartbeat(
		m.cfg.HeartbeatInterval,
		m.cfg.HeartbeatTimeout,
		func() error { return m.writePing(conn) },
		m.handleHeartbeatLost,
		m.logger.With("episode", episode),
	)

	conn.SetPingHandler(func(data string) error {
		hb.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		hb.touch()
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.hb = hb
	m.episode = episode
	m.state = StateOpen
	m.mu.Unlock()

	hb.start()

	m.logger.Info("connected", "addr", addr, "episode", episode)
	m.notifyStateChanged(StateOpen)
	return nil
}

// StartReceiveLoop begins reading messages on a background goroutine,
// delivering each complete text message to handler. Calling it before a
// successful Connect is a programming error.
func (m *Manager) StartReceiveLoop(ctx context.Context, handler MessageHandler) error {
	m.mu.Lock()
	if m.conn == nil || m.state != StateOpen {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.recvDone != nil {
		m.mu.Unlock()
		return ErrAlreadyReceiving
	}

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.recvCancel = cancel
	m.recvDone = done
	conn := m.conn
	hb := m.hb
	m.mu.Unlock()

	go m.receiveLoop(rctx, conn, hb, handler, done)
	return nil
}

func (m *Manager) receiveLoop(ctx context.Context, conn *websocket.Conn, hb *heartbeat, handler MessageHandler, done chan struct{}) {
	defer close(done)

	for {
		// ReadMessage reassembles fragmented frames into one message.
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// Caller-initiated teardown, not a fault.
				m.logger.Debug("receive loop stopped", "reason", ctx.Err())
				return
			}

			// Only a genuine close handshake counts as CloseReceived.
			// Gorilla reports an abruptly dropped socket as
			// CloseError 1006, which is a fault, not a close frame.
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				switch ce.Code {
				case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
					m.logger.Info("close frame received", "code", ce.Code, "reason", ce.Text)
					m.transition(StateCloseReceived)
					return
				}
			}

			m.logger.Warn("receive loop fault", "error", err)
			m.transition(StateAborted)
			m.notifyConnectionLost()
			return
		}

		hb.touch()

		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			m.dispatch(handler, data)
		}
	}
}

// dispatch invokes the handler with per-message fault isolation.
func (m *Manager) dispatch(handler MessageHandler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panic", "panic", r)
		}
	}()
	handler(data)
}

// Send writes msg as a single text frame. Delivery is best-effort: when
// the connection is not open the message is dropped with a warning.
func (m *Manager) Send(ctx context.Context, msg []byte) error {
	m.mu.Lock()
	conn, st := m.conn, m.state
	m.mu.Unlock()

	if st != StateOpen || conn == nil {
		m.logger.Warn("send skipped, connection not open", "state", st)
		return nil
	}

	deadline := time.Now().Add(m.cfg.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// RecordPongReceived records heartbeat activity for callers that run
// their own ping/pong semantics above this layer.
func (m *Manager) RecordPongReceived() {
	m.mu.Lock()
	hb := m.hb
	m.mu.Unlock()

	if hb != nil {
		hb.touch()
	}
}

// Disconnect tears the connection down. Idempotent; always leaves the
// manager in StateClosed. Teardown-path errors are logged, never
// propagated.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	hb := m.hb
	cancel := m.recvCancel
	done := m.recvDone
	st := m.state
	episode := m.episode
	m.conn = nil
	m.hb = nil
	m.recvCancel = nil
	m.recvDone = nil
	m.episode = ""
	m.mu.Unlock()

	// Disarm the heartbeat before touching the socket so teardown is
	// never misread as connection loss.
	if hb != nil {
		hb.disarm()
		hb.stop()
	}

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		if st == StateOpen || st == StateCloseReceived {
			err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			if err != nil {
				m.logger.Debug("close handshake failed", "error", err)
			}
		}
		if err := conn.Close(); err != nil {
			m.logger.Debug("socket close", "error", err)
		}
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("receive loop still running at cancellation", "error", ctx.Err())
		}
	}

	if episode != "" {
		m.logger.Info("disconnected", "episode", episode)
	}
	m.transition(StateClosed)
	return nil
}

// TryReconnect attempts to re-establish the connection, returning false
// immediately when a reconnection is already in progress. On success it
// invokes onReconnected (resubscription hook) before notifying
// listeners with the attempt count. Exhausting MaxReconnectAttempts
// returns false without panicking.
func (m *Manager) TryReconnect(ctx context.Context, addr string, configure ConfigureFunc, onReconnected func()) bool {
	if !m.reconnectMu.TryLock() {
		m.logger.Debug("reconnect already in progress")
		return false
	}
	defer m.reconnectMu.Unlock()

	m.logger.Info("reconnecting", "addr", addr, "max_attempts", m.cfg.MaxReconnectAttempts)

	// Tear down whatever is left of the stale connection.
	if err := m.Disconnect(ctx); err != nil {
		m.logger.Warn("stale connection teardown", "error", err)
	}

	b := newReconnectBackOff(m.cfg.RetryBaseDelay, m.cfg.MaxRetryDelay)

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		delay := b.NextBackOff()
		m.logger.Info("reconnect attempt",
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			m.logger.Info("reconnect cancelled", "attempt", attempt)
			return false
		case <-time.After(delay):
		}

		if err := m.Connect(ctx, addr, configure); err != nil {
			m.logger.Warn("reconnect attempt failed",
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		if onReconnected != nil {
			onReconnected()
		}
		m.notifyReconnected(attempt)
		m.logger.Info("reconnected", "attempt", attempt)
		return true
	}

	m.logger.Error("reconnect attempts exhausted, manual intervention required",
		"attempts", m.cfg.MaxReconnectAttempts,
	)
	return false
}

func (m *Manager) writePing(conn *websocket.Conn) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(m.cfg.WriteTimeout))
}

func (m *Manager) handleHeartbeatLost() {
	m.notifyConnectionLost()
}

// transition updates the state and notifies listeners when it changed.
func (m *Manager) transition(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.notifyStateChanged(s)
}

func (m *Manager) notifyStateChanged(s State) {
	m.cbMu.Lock()
	listeners := append([]func(State){}, m.onStateChanged...)
	m.cbMu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (m *Manager) notifyConnectionLost() {
	m.cbMu.Lock()
	listeners := append([]func(){}, m.onConnectionLost...)
	m.cbMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (m *Manager) notifyReconnected(attempt int) {
	m.cbMu.Lock()
	listeners := append([]func(int){}, m.onReconnected...)
	m.cbMu.Unlock()

	for _, fn := range listeners {
		fn(attempt)
	}
}
