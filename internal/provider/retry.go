package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Oracle calls sit between a waiting webhook delivery and its reply, so
// the retry window has to stay well under the relay's per-message
// timeout: a few quick attempts, then give up and let the relay fall
// back to the apology text.
const (
	maxSendAttempts = 4
	baseBackoff     = 500 * time.Millisecond
	maxBackoff      = 8 * time.Second
)

// oracleHTTPError is a non-2xx response from an oracle API.
type oracleHTTPError struct {
	status int
	body   string
}

func (e *oracleHTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

// transient reports whether the response status is worth retrying:
// rate limits and server-side errors. Auth and request-shape errors
// (4xx) will not get better on a second attempt.
func (e *oracleHTTPError) transient() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// sendWithRetry issues the request built by buildReq, retrying network
// failures and transient HTTP errors with capped geometric backoff.
// A Retry-After header on a 429 overrides the computed delay when it
// fits inside the cap.
func sendWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			httpErr := responseError(resp)
			if httpErr == nil {
				return resp, nil
			}
			lastErr = httpErr
			if !httpErr.transient() {
				return nil, httpErr
			}
			if attempt < maxSendAttempts {
				delay := backoffDelay(attempt, retryAfter(resp))
				logger.Warn("oracle returned transient error, retrying",
					"status", httpErr.status, "attempt", attempt, "backoff", delay)
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, err
				}
			}
			continue
		}

		lastErr = err
		if attempt < maxSendAttempts {
			delay := backoffDelay(attempt, 0)
			logger.Warn("oracle request failed, retrying",
				"error", err, "attempt", attempt, "backoff", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("oracle unreachable after %d attempts: %w", maxSendAttempts, lastErr)
}

// responseError drains and classifies a non-2xx response, or returns
// nil for a usable one.
func responseError(resp *http.Response) *oracleHTTPError {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return &oracleHTTPError{status: resp.StatusCode, body: string(body)}
}

// retryAfter reads a Retry-After header in seconds form; 0 means absent
// or unusable.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// backoffDelay doubles the base per attempt, capped, with jitter so
// concurrent clients do not retry in lockstep. A server-provided hint
// wins when it fits under the cap.
func backoffDelay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 && hint <= maxBackoff {
		return hint
	}
	delay := baseBackoff << (attempt - 1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay + time.Duration(rand.Int64N(int64(delay/2+1)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
