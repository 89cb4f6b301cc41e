// Package retry wraps a single asynchronous operation with bounded retry and
// exponential backoff. It is consumed by the poll scheduler's per-cycle fetch,
// the mutation queue's per-item replay, and ad-hoc one-shot calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// statusCoder is satisfied by errors that carry an HTTP response code,
// such as api.StatusError. Declared here so retry does not depend on api.
type statusCoder interface {
	HTTPStatus() int
}

// DefaultRetryable classifies an error as transient or permanent.
// HTTP 429/408/5xx and plain network failures are transient; any other
// 4xx means the request itself is bad and repeating it cannot help.
// Call sites override this via Config.RetryIf.
func DefaultRetryable(err error) bool {
	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == http.StatusTooManyRequests, // 429 - rate limiting
			code == http.StatusRequestTimeout: // 408 - client timeout
			return true
		case code >= 500:
			return true
		default:
			return false
		}
	}

	// Checked before the context errors: per-request HTTP client timeouts
	// unwrap to context.DeadlineExceeded (Go 1.16+) but arrive as net.Error
	// timeouts, and a timed-out request is transient, not caller abandonment.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// A bare context error means the caller itself gave up; Do also polices
	// the live context between attempts and during backoff waits.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Fallback: unknown failures (DNS, connection reset, transport hiccups)
	// are assumed transient and safe to retry.
	return true
}

// delayFor computes the wait before the retry that follows the 0-indexed
// failed attempt n: min(BaseDelay * Multiplier^n, MaxDelay).
func delayFor(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Do executes operation with the retry behavior described by cfg.
//
// The operation runs at most cfg.MaxRetries+1 times. A failure that the
// predicate rejects is returned immediately; when attempts are exhausted the
// last error is returned verbatim so callers can classify it themselves.
// opName is used for logging only.
func Do(ctx context.Context, cfg Config, opName string, operation func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	if cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OperationTimeout)
		defer cancel()
	}

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		// Stop immediately if the caller gave up or the overall timeout hit.
		if ctx.Err() != nil {
			return fmt.Errorf("%s aborted before attempt %d: %w", opName, attempt+1, ctx.Err())
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		if !cfg.RetryIf(lastErr) {
			return lastErr // Permanent error, fail fast.
		}

		// Last attempt: no point sleeping, surface the error as-is.
		if attempt == cfg.MaxRetries {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		slog.Warn("Transient error detected, scheduling retry",
			"operation", opName,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"error", lastErr)

		sleep := delayFor(cfg, attempt)
		if cfg.Jitter && sleep > 0 {
			// Up to 50% extra, still capped at MaxDelay.
			sleep += time.Duration(rand.Int63n(int64(sleep)/2 + 1))
			if cfg.MaxDelay > 0 && sleep > cfg.MaxDelay {
				sleep = cfg.MaxDelay
			}
		}

		select {
		case <-cfg.Clock.After(sleep):
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during backoff: %w", opName, ctx.Err())
		}
	}

	return lastErr
}
