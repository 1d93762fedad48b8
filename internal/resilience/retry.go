package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Operation is a single attempt of a protected call.
type Operation func(ctx context.Context) error

// Pipeline executes an operation through one or more resilience policies.
type Pipeline interface {
	Execute(ctx context.Context, op Operation) error
}

// ShouldRetry classifies an error as retryable or terminal.
type ShouldRetry func(error) bool

// DefaultShouldRetry treats transport errors, attempt timeouts, rate
// limits, and 5xx/408/429 statuses as retryable. Cancellation, open
// circuits, and other 4xx statuses are terminal.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// Transport-level errors are transient by default.
	return true
}

// DelayFunc computes the wait before the next attempt. attempt is
// 1-based: 1 means the first retry.
type DelayFunc func(attempt int, err error) time.Duration

// Retry executes an operation with bounded, jittered exponential backoff.
type Retry struct {
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	shouldRetry ShouldRetry
	delayFn     DelayFunc // overrides the default backoff when non-nil
	logger      *slog.Logger
}

// NewRetryPipeline builds a retry policy from cfg.
func NewRetryPipeline(cfg Config, logger *slog.Logger) *Retry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retry{
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.MaxRetryDelay,
		shouldRetry: DefaultShouldRetry,
		logger:      logger,
	}
}

// newBackOff builds the shared jittered exponential schedule:
// base * 2^(n-1), randomized by ±20%, capped at max.
func newBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute runs op, retrying retryable failures up to maxRetries times
// (maxRetries+1 attempts in total).
func (r *Retry) Execute(ctx context.Context, op Operation) error {
	b := newBackOff(r.baseDelay, r.maxDelay)

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.maxRetries || !r.shouldRetry(err) {
			return err
		}

		delay := b.NextBackOff()
		if r.delayFn != nil {
			delay = r.delayFn(attempt+1, err)
		}
		r.logger.Warn("retrying after failure",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
