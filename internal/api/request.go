package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mwhitt/feedlink/internal/resilience"
)

// Get performs a GET request and decodes a successful JSON response
// into out. The request runs through the rate-limit-aware retry
// pipeline: 5xx, 408 and transport errors use jittered backoff, and 429
// honors the server's Retry-After hint. The returned HandleResult
// classifies the final outcome; err is non-nil only for transport
// failures, retry exhaustion, or cancellation.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (resilience.HandleResult, error) {
	var result resilience.HandleResult

	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		res, err := c.doRequest(ctx, http.MethodGet, path, query, out)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return classifyError(err), err
	}
	return result, nil
}

// doRequest performs one attempt. Retryable outcomes are returned as
// errors so the pipeline retries them; terminal outcomes land in the
// HandleResult.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, out any) (resilience.HandleResult, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return resilience.HandleResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.HandleResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	res := resilience.ClassifyResponse(resp)
	switch res.Kind {
	case resilience.Success:
		if out != nil {
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return resilience.HandleResult{}, fmt.Errorf("read response: %w", err)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return resilience.HandleResult{}, fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return res, nil

	case resilience.RateLimited:
		return resilience.HandleResult{}, &resilience.RateLimitError{RetryAfter: res.RetryAfter}

	case resilience.Failed:
		se := &resilience.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if se.Retryable() {
			return resilience.HandleResult{}, se
		}
		return res, nil

	default:
		// NotFound and AuthFailure are terminal classifications.
		return res, nil
	}
}

// classifyError maps a pipeline error to the caller-facing result.
func classifyError(err error) resilience.HandleResult {
	var rle *resilience.RateLimitError
	if errors.As(err, &rle) {
		return resilience.HandleResult{Kind: resilience.RateLimited, RetryAfter: rle.RetryAfter}
	}
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return resilience.ClassifyResponse(&http.Response{
			StatusCode: se.StatusCode,
			Status:     se.Status,
			Header:     http.Header{},
		})
	}
	return resilience.HandleResult{Kind: resilience.Failed, Message: err.Error()}
}
