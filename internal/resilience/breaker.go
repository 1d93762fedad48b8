package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without attempting the call while the
// circuit is open. Distinct from transient failures so callers can back
// off instead of hammering a pipeline that rejects immediately.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed is the normal operating state.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls immediately.
	BreakerOpen

	// BreakerHalfOpen admits a single probe call.
	BreakerHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a failure-ratio circuit breaker. It opens when at least
// half of the calls in a sliding window fail, once the window holds a
// minimum number of calls. Safe for concurrent use.
type Breaker struct {
	minThroughput int
	openFor       time.Duration
	isFailure     func(error) bool
	logger        *slog.Logger
	now           func() time.Time

	mu            sync.Mutex
	state         BreakerState
	window        []bool // true = failure; ring of recent outcomes
	next          int
	filled        int
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreakerPipeline builds a circuit breaker from cfg.
func NewCircuitBreakerPipeline(cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	minThroughput := cfg.BreakerFailureThreshold
	if minThroughput < 1 {
		minThroughput = 1
	}
	return &Breaker{
		minThroughput: minThroughput,
		openFor:       cfg.BreakerOpenDuration,
		isFailure:     defaultIsFailure,
		logger:        logger,
		now:           time.Now,
		window:        make([]bool, minThroughput),
	}
}

func defaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	// Caller-initiated cancellation is not the dependency's fault.
	return !errors.Is(err, context.Canceled)
}

// Execute runs op if the circuit admits it, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// State returns the current state, applying the open-duration elapse.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.isFailure(err)

	switch b.currentState() {
	case BreakerClosed:
		b.window[b.next] = failed
		b.next = (b.next + 1) % len(b.window)
		if b.filled < len(b.window) {
			b.filled++
		}
		if b.filled >= b.minThroughput && b.failureRatio() >= 0.5 {
			b.setState(BreakerOpen)
		}

	case BreakerHalfOpen:
		b.probeInFlight = false
		if failed {
			b.setState(BreakerOpen)
		} else {
			b.setState(BreakerClosed)
		}
	}
}

func (b *Breaker) failureRatio() float64 {
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.openFor {
		b.setState(BreakerHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	for i := range b.window {
		b.window[i] = false
	}
	b.next = 0
	b.filled = 0
	b.probeInFlight = false

	if to == BreakerOpen {
		b.openedAt = b.now()
	}

	b.logger.Info("circuit state changed", "from", from, "to", to)
}
