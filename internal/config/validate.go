package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Probe.URL == "" {
		return errors.New("probe.url is required")
	}
	if !strings.HasPrefix(c.Probe.URL, "ws://") && !strings.HasPrefix(c.Probe.URL, "wss://") {
		return fmt.Errorf("probe.url must be a ws:// or wss:// address, got %q", c.Probe.URL)
	}

	conn := c.Connection
	if conn.MaxRetries < 0 {
		return errors.New("connection.max_retries must be >= 0")
	}
	if conn.RetryBaseDelay <= 0 {
		return errors.New("connection.retry_base_delay must be positive")
	}
	if conn.MaxRetryDelay < conn.RetryBaseDelay {
		return fmt.Errorf("connection.max_retry_delay (%v) cannot be less than retry_base_delay (%v)",
			conn.MaxRetryDelay, conn.RetryBaseDelay)
	}
	if conn.BreakerFailureThreshold < 1 {
		return errors.New("connection.breaker_failure_threshold must be >= 1")
	}
	if conn.BreakerOpenDuration <= 0 {
		return errors.New("connection.breaker_open_duration must be positive")
	}
	if conn.OperationTimeout <= 0 {
		return errors.New("connection.operation_timeout must be positive")
	}
	if conn.HeartbeatInterval <= 0 {
		return errors.New("connection.heartbeat_interval must be positive")
	}
	if conn.HeartbeatTimeout <= conn.HeartbeatInterval {
		return fmt.Errorf("connection.heartbeat_timeout (%v) must exceed heartbeat_interval (%v)",
			conn.HeartbeatTimeout, conn.HeartbeatInterval)
	}
	if conn.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}

	return nil
}
