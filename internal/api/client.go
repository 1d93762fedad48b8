package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mwhitt/feedlink/internal/resilience"
)

// Client issues JSON requests against a base URL with rate-limit-aware
// retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      *resilience.Retry
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retry == nil {
		c.retry = resilience.NewRateLimitAwarePipeline(resilience.DefaultConfig(), c.logger)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryConfig overrides the retry pipeline parameters.
func WithRetryConfig(cfg resilience.Config) ClientOption {
	return func(c *Client) {
		c.retry = resilience.NewRateLimitAwarePipeline(cfg, c.logger)
	}
}
