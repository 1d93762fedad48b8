package connection

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testHeartbeat(interval, timeout time.Duration, ping func() error, onLost func()) *heartbeat {
	return newHeartbeat(interval, timeout, ping, onLost, slog.Default())
}

func TestHeartbeat_FiresOnceOnSilence(t *testing.T) {
	var fired atomic.Int32
	h := testHeartbeat(10*time.Millisecond, 25*time.Millisecond, nil, func() {
		fired.Add(1)
	})
	h.start()
	defer h.stop()

	deadline := time.After(time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("heartbeat never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Further silence must not fire again.
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestHeartbeat_TouchPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	h := testHeartbeat(10*time.Millisecond, 50*time.Millisecond, nil, func() {
		fired.Add(1)
	})
	h.start()
	defer h.stop()

	for i := 0; i < 15; i++ {
		h.touch()
		time.Sleep(10 * time.Millisecond)
	}

	if got := fired.Load(); got != 0 {
		t.Errorf("fired %d times, want 0", got)
	}
}

func TestHeartbeat_DisarmPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	h := testHeartbeat(10*time.Millisecond, 25*time.Millisecond, nil, func() {
		fired.Add(1)
	})
	h.start()
	h.disarm()

	time.Sleep(100 * time.Millisecond)
	h.stop()

	if got := fired.Load(); got != 0 {
		t.Errorf("fired %d times after disarm, want 0", got)
	}
}

func TestHeartbeat_StopSafeWithoutStart(t *testing.T) {
	h := testHeartbeat(10*time.Millisecond, 25*time.Millisecond, nil, func() {})
	h.stop()
	h.stop()
	h.disarm()
}

func TestHeartbeat_SingleOutstandingPing(t *testing.T) {
	var pings atomic.Int32
	h := testHeartbeat(10*time.Millisecond, time.Minute, func() error {
		pings.Add(1)
		return nil
	}, func() {})
	h.start()
	defer h.stop()

	// Without a pong, only one ping may be outstanding.
	time.Sleep(80 * time.Millisecond)
	if got := pings.Load(); got != 1 {
		t.Errorf("sent %d pings without pong, want 1", got)
	}

	// A pong clears the outstanding ping and allows another.
	h.touch()
	time.Sleep(50 * time.Millisecond)
	if got := pings.Load(); got < 2 {
		t.Errorf("sent %d pings after pong, want at least 2", got)
	}
}
