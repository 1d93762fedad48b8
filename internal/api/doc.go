// Package api provides a small JSON-over-HTTP client whose requests run
// through the rate-limit-aware retry pipeline. Outcomes are returned as
// classified results rather than raw status errors, so callers can
// distinguish auth failures, missing resources, and rate limits without
// parsing exceptions.
package api
