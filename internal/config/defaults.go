package config

import "time"

// Default values applied by LoadWithDefaults.
const (
	DefaultMaxRetries              = 3
	DefaultRetryBaseDelay          = time.Second
	DefaultMaxRetryDelay           = 30 * time.Second
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerOpenDuration     = 30 * time.Second
	DefaultOperationTimeout        = 30 * time.Second
	DefaultHeartbeatInterval       = 30 * time.Second
	DefaultHeartbeatTimeout        = 90 * time.Second
	DefaultMaxReconnectAttempts    = 10
	DefaultHandshakeTimeout        = 10 * time.Second
	DefaultWriteTimeout            = 5 * time.Second
	DefaultAPITimeout              = 30 * time.Second
)

// Default returns a config populated with default values only.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields with defaults.
func (c *Config) applyDefaults() {
	conn := &c.Connection
	if conn.MaxRetries == 0 {
		conn.MaxRetries = DefaultMaxRetries
	}
	if conn.RetryBaseDelay == 0 {
		conn.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if conn.MaxRetryDelay == 0 {
		conn.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if conn.BreakerFailureThreshold == 0 {
		conn.BreakerFailureThreshold = DefaultBreakerFailureThreshold
	}
	if conn.BreakerOpenDuration == 0 {
		conn.BreakerOpenDuration = DefaultBreakerOpenDuration
	}
	if conn.OperationTimeout == 0 {
		conn.OperationTimeout = DefaultOperationTimeout
	}
	if conn.HeartbeatInterval == 0 {
		conn.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conn.HeartbeatTimeout == 0 {
		conn.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if conn.MaxReconnectAttempts == 0 {
		conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}

	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
}
