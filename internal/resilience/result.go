package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies the outcome of a single request.
type Kind int

const (
	// Success is a 2xx outcome.
	Success Kind = iota

	// NotFound is a 404 outcome. Not retryable.
	NotFound

	// RateLimited is a 429 outcome, optionally carrying a Retry-After hint.
	RateLimited

	// AuthFailure is a 401 or 403 outcome. Not retryable.
	AuthFailure

	// Failed is any other failure outcome.
	Failed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case AuthFailure:
		return "auth_failure"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandleResult is the caller-facing classification of one request outcome.
type HandleResult struct {
	Kind       Kind
	RetryAfter time.Duration // RateLimited only; 0 when the server gave no hint
	Message    string        // Failed only
}

// ClassifyResponse maps an HTTP response to a HandleResult.
func ClassifyResponse(resp *http.Response) HandleResult {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return HandleResult{Kind: Success}
	case resp.StatusCode == http.StatusNotFound:
		return HandleResult{Kind: NotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		after, _ := ExtractRetryAfter(resp)
		return HandleResult{Kind: RateLimited, RetryAfter: after}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return HandleResult{Kind: AuthFailure}
	default:
		return HandleResult{Kind: Failed, Message: resp.Status}
	}
}

// ErrRateLimited is returned when the server rejects a request with 429.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError carries the server-supplied Retry-After hint, when present.
type RateLimitError struct {
	RetryAfter time.Duration // 0 when the server gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to match ErrRateLimited via errors.Is.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StatusError represents a non-2xx HTTP outcome.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Status)
}

// Retryable reports whether the status warrants another attempt.
// 5xx, 408 and 429 are transient; other 4xx are not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// ExtractRetryAfter parses the Retry-After header of a response. It
// accepts a delta-seconds value or an HTTP-date, returning the remaining
// delay. The second return is false when the header is absent,
// unparsable, or the date has already elapsed.
func ExtractRetryAfter(resp *http.Response) (time.Duration, bool) {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(raw); err == nil {
		remaining := time.Until(t)
		if remaining <= 0 {
			return 0, false
		}
		return remaining, true
	}

	return 0, false
}
