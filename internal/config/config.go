package config

import (
	"time"

	"github.com/mwhitt/feedlink/internal/connection"
)

// Config is the root configuration for a feedlink instance.
type Config struct {
	Probe      ProbeConfig      `yaml:"probe"`
	Connection ConnectionConfig `yaml:"connection"`
	API        APIConfig        `yaml:"api"`
}

// ProbeConfig identifies the endpoint the probe streams from.
type ProbeConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"` // optional bearer token, usually ${ENV}-expanded
}

// ConnectionConfig holds the connection manager settings.
type ConnectionConfig struct {
	MaxRetries              int           `yaml:"max_retries"`
	RetryBaseDelay          time.Duration `yaml:"retry_base_delay"`
	MaxRetryDelay           time.Duration `yaml:"max_retry_delay"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerOpenDuration     time.Duration `yaml:"breaker_open_duration"`
	OperationTimeout        time.Duration `yaml:"operation_timeout"`
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout        time.Duration `yaml:"heartbeat_timeout"`
	MaxReconnectAttempts    int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout        time.Duration `yaml:"handshake_timeout"`
	WriteTimeout            time.Duration `yaml:"write_timeout"`
}

// APIConfig holds settings for the REST client.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ManagerConfig converts the yaml settings into the connection
// manager's config struct.
func (c ConnectionConfig) ManagerConfig() connection.Config {
	return connection.Config{
		MaxRetries:              c.MaxRetries,
		RetryBaseDelay:          c.RetryBaseDelay,
		MaxRetryDelay:           c.MaxRetryDelay,
		BreakerFailureThreshold: c.BreakerFailureThreshold,
		BreakerOpenDuration:     c.BreakerOpenDuration,
		OperationTimeout:        c.OperationTimeout,
		HeartbeatInterval:       c.HeartbeatInterval,
		HeartbeatTimeout:        c.HeartbeatTimeout,
		MaxReconnectAttempts:    c.MaxReconnectAttempts,
		HandshakeTimeout:        c.HandshakeTimeout,
		WriteTimeout:            c.WriteTimeout,
	}
}
