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

	"agentdesk/internal/domain"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// backoff is the wait before retry n (n >= 1): n² seconds plus up to 50% jitter.
var backoff = func(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// statusError is a gateway reply worth retrying.
type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

func transient(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status == http.StatusNotImplemented:
		return false
	}
	return status >= 500
}

// retryAfter reads a Retry-After header given in seconds, capped at maxRetryAfter.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// doWithRetry sends the request built by buildReq, retrying network errors
// and transient statuses. A server-supplied Retry-After replaces the backoff
// when it is longer. A 429 that outlives the retries wraps
// domain.ErrRateLimited.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			if se, ok := lastErr.(*statusError); ok && se.retryAfter > wait {
				wait = se.retryAfter
			}
			logger.Warn("gateway retry", "attempt", attempt+1, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if !transient(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = &statusError{status: resp.StatusCode, body: string(body), retryAfter: retryAfter(resp.Header)}
	}

	if se, ok := lastErr.(*statusError); ok && se.status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %w", domain.ErrRateLimited, lastErr)
	}
	return nil, fmt.Errorf("gateway failed after %d retries: %w", maxRetries, lastErr)
}
