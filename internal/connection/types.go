package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyReceiving = errors.New("receive loop already running")
)

// State is the externally observable connection state.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateOpen
	StateCloseReceived
	StateAborted
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCloseReceived:
		return "close_received"
	case StateAborted:
		return "aborted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConfigureFunc lets callers adjust the dialer and request headers
// (auth, subprotocols) before each dial attempt.
type ConfigureFunc func(dialer *websocket.Dialer, header http.Header)

// MessageHandler processes one complete inbound text message. A panic
// inside the handler is logged and does not terminate the receive loop.
type MessageHandler func(data []byte)

// Config holds the connection manager parameters. Immutable once a
// manager is constructed.
type Config struct {
	MaxRetries              int           // connect retries inside the pipeline
	RetryBaseDelay          time.Duration // first backoff delay
	MaxRetryDelay           time.Duration // backoff cap
	BreakerFailureThreshold int           // minimum-throughput window for the circuit breaker
	BreakerOpenDuration     time.Duration // how long the circuit stays open
	OperationTimeout        time.Duration // per-operation ceiling for connect
	HeartbeatInterval       time.Duration // liveness check period
	HeartbeatTimeout        time.Duration // max silence before the connection is considered lost
	MaxReconnectAttempts    int           // bound on reconnection attempts per TryReconnect
	HandshakeTimeout        time.Duration // websocket handshake deadline
	WriteTimeout            time.Duration // write deadline for sends
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		RetryBaseDelay:          time.Second,
		MaxRetryDelay:           30 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,
		OperationTimeout:        30 * time.Second,
		HeartbeatInterval:       30 * time.Second,
		HeartbeatTimeout:        90 * time.Second,
		MaxReconnectAttempts:    10,
		HandshakeTimeout:        10 * time.Second,
		WriteTimeout:            5 * time.Second,
	}
}
