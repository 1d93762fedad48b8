package resilience

import (
	"context"
	"log/slog"
	"time"
)

// Config parameterizes the resilience policies. Zero values are
// replaced by defaults when built through DefaultConfig.
type Config struct {
	MaxRetries              int
	RetryBaseDelay          time.Duration
	MaxRetryDelay           time.Duration
	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration
	OperationTimeout        time.Duration
	TotalTimeout            time.Duration // whole-operation ceiling for the comprehensive pipeline
}

// DefaultConfig returns the standard policy parameters.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		RetryBaseDelay:          time.Second,
		MaxRetryDelay:           30 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,
		OperationTimeout:        30 * time.Second,
		TotalTimeout:            5 * time.Minute,
	}
}

// ComprehensivePipeline layers timeout, circuit breaker and retry. The
// breaker sits outside the retry loop so that it records the outcome of
// each fully retried call: a failure reaching the breaker means the
// transient condition survived every retry. Inside the retry loop each
// individual attempt is bounded by the operation timeout, so a hung
// attempt is cut off and retried rather than consuming the whole
// total-timeout window.
type ComprehensivePipeline struct {
	timeout   *Timeout // whole-call ceiling
	breaker   *Breaker
	retry     *Retry
	attemptTO *Timeout // per-attempt ceiling
}

// NewPipeline builds the comprehensive pipeline from cfg.
func NewPipeline(cfg Config, logger *slog.Logger) *ComprehensivePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	total := cfg.TotalTimeout
	if total <= 0 {
		total = 5 * time.Minute
	}
	perAttempt := cfg.OperationTimeout
	if perAttempt <= 0 {
		perAttempt = 30 * time.Second
	}
	return &ComprehensivePipeline{
		timeout:   NewTimeoutPipeline(total, logger),
		breaker:   NewCircuitBreakerPipeline(cfg, logger),
		retry:     NewRetryPipeline(cfg, logger),
		attemptTO: NewTimeoutPipeline(perAttempt, logger),
	}
}

// Execute runs op through timeout, breaker and retry, outermost first,
// with each attempt bounded by the operation timeout.
func (p *ComprehensivePipeline) Execute(ctx context.Context, op Operation) error {
	return p.timeout.Execute(ctx, func(ctx context.Context) error {
		return p.breaker.Execute(ctx, func(ctx context.Context) error {
			return p.retry.Execute(ctx, func(ctx context.Context) error {
				return p.attemptTO.Execute(ctx, op)
			})
		})
	})
}

// BreakerState exposes the inner circuit state for observability.
func (p *ComprehensivePipeline) BreakerState() BreakerState {
	return p.breaker.State()
}
