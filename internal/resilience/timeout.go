package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTimeout classifies an attempt that exceeded its deadline. It is
// retryable under DefaultShouldRetry.
var ErrTimeout = errors.New("operation timed out")

// Timeout wraps each execution with a hard deadline, cancelling the
// in-flight operation on expiry.
type Timeout struct {
	limit  time.Duration
	logger *slog.Logger
}

// NewTimeoutPipeline builds a timeout policy with the given ceiling.
func NewTimeoutPipeline(limit time.Duration, logger *slog.Logger) *Timeout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeout{limit: limit, logger: logger}
}

// Execute runs op under a deadline of limit. Expiry of this deadline,
// as opposed to one inherited from ctx, is reported as ErrTimeout.
func (t *Timeout) Execute(ctx context.Context, op Operation) error {
	tctx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()

	err := op(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		t.logger.Warn("operation deadline exceeded", "limit", t.limit)
		return fmt.Errorf("%w after %s", ErrTimeout, t.limit)
	}
	return err
}
