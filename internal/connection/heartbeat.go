package connection

import (
	"log/slog"
	"sync"
	"time"
)

// heartbeat detects silent connection death independent of transport
// close events. One instance covers one connection episode; it is not
// reused across reconnects.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	ping     func() error // sends a transport-level ping; nil disables pinging
	onLost   func()       // invoked at most once per instance
	logger   *slog.Logger

	mu              sync.Mutex
	lastActivity    time.Time
	pingOutstanding bool
	fired           bool
	disarmed        bool

	done     chan struct{}
	stopOnce sync.Once
}

func newHeartbeat(interval, timeout time.Duration, ping func() error, onLost func(), logger *slog.Logger) *heartbeat {
	return &heartbeat{
		interval:     interval,
		timeout:      timeout,
		ping:         ping,
		onLost:       onLost,
		logger:       logger,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
}

// start begins the periodic liveness check.
func (h *heartbeat) start() {
	go h.run()
}

func (h *heartbeat) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if h.check() {
				return
			}
		}
	}
}

// check runs one liveness tick. It returns true when the monitor is
// finished, either fired or disarmed.
func (h *heartbeat) check() bool {
	h.mu.Lock()
	if h.disarmed || h.fired {
		h.mu.Unlock()
		return true
	}

	silence := time.Since(h.lastActivity)
	if silence > h.timeout {
		h.fired = true
		h.mu.Unlock()

		h.logger.Warn("heartbeat timeout, connection lost",
			"silence", silence,
			"timeout", h.timeout,
		)
		if h.onLost != nil {
			h.onLost()
		}
		return true
	}

	sendPing := h.ping != nil && !h.pingOutstanding
	if sendPing {
		h.pingOutstanding = true
	}
	h.mu.Unlock()

	if sendPing {
		if err := h.ping(); err != nil {
			h.logger.Debug("failed to send ping", "error", err)
		}
	}
	return false
}

// touch records inbound activity and clears the outstanding ping.
func (h *heartbeat) touch() {
	h.mu.Lock()
	h.lastActivity = time.Now()
	h.pingOutstanding = false
	h.mu.Unlock()
}

// disarm prevents the lost signal from firing. Called before any
// caller-initiated disconnect so teardown is not misread as loss.
func (h *heartbeat) disarm() {
	h.mu.Lock()
	h.disarmed = true
	h.mu.Unlock()
}

// stop cancels the ticker goroutine. Safe to call repeatedly and even
// if the monitor was never started.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}
