package resilience

import (
	"errors"
	"log/slog"
	"time"
)

// RateLimitDelay computes the wait before the next attempt for
// request/response calls. Rate-limit outcomes use the server-supplied
// Retry-After hint (or fallback when the server gave none); everything
// else falls back to plain exponential backoff of 2^attempt seconds.
func RateLimitDelay(fallback time.Duration) DelayFunc {
	return func(attempt int, err error) time.Duration {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			if rle.RetryAfter > 0 {
				return rle.RetryAfter
			}
			return fallback
		}
		return time.Duration(1<<uint(attempt)) * time.Second
	}
}

// NewRateLimitAwarePipeline builds a retry policy for request/response
// calls that honors Retry-After hints instead of blind backoff.
func NewRateLimitAwarePipeline(cfg Config, logger *slog.Logger) *Retry {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := cfg.RetryBaseDelay
	if fallback <= 0 {
		fallback = time.Second
	}
	r := NewRetryPipeline(cfg, logger)
	r.delayFn = RateLimitDelay(fallback)
	return r
}
