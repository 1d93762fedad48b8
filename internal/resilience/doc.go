// Package resilience provides composable request-resilience policies:
// retry with exponential backoff and jitter, a failure-ratio circuit
// breaker, per-operation timeouts, and a rate-limit-aware retry that
// honors server-supplied Retry-After hints.
//
// Policies are pure configuration; constructors hold no shared state
// beyond the breaker's own counters. The comprehensive pipeline layers
// Timeout > CircuitBreaker > Retry so that the breaker observes the
// outcome of each fully retried call.
package resilience
