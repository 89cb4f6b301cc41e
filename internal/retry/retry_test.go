package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// statusErr is a minimal stand-in for api.StatusError.
type statusErr struct {
	code int
}

func (e *statusErr) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDo_AttemptCounts(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		failures     int // operation fails this many times, then succeeds
		wantAttempts int
		wantErr      bool
	}{
		{name: "Immediate Success", maxRetries: 3, failures: 0, wantAttempts: 1},
		{name: "One Failure Then Success", maxRetries: 3, failures: 1, wantAttempts: 2},
		{name: "All Retries Used Then Success", maxRetries: 3, failures: 3, wantAttempts: 4},
		{name: "Exhausted", maxRetries: 3, failures: 10, wantAttempts: 4, wantErr: true},
		{name: "Zero Retries Exhausted", maxRetries: 0, failures: 1, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			opErr := errors.New("transient failure")

			err := Do(context.Background(), fastConfig(tt.maxRetries), "test-op", func(ctx context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return opErr
				}
				return nil
			})

			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			// Exhaustion must surface the operation's error verbatim.
			if tt.wantErr && !errors.Is(err, opErr) {
				t.Errorf("Do() error = %v, want the operation's own error", err)
			}
		})
	}
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	attempts := 0
	permanent := &statusErr{code: http.StatusBadRequest}

	err := Do(context.Background(), fastConfig(5), "test-op", func(ctx context.Context) error {
		attempts++
		return permanent
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (permanent errors must not be retried)", attempts)
	}
	if !errors.Is(err, permanent) {
		t.Errorf("Do() error = %v, want %v", err, permanent)
	}
}

func TestDo_PredicateOverride(t *testing.T) {
	// A 400 is normally permanent; an override can make it retryable.
	cfg := fastConfig(2)
	cfg.RetryIf = func(err error) bool { return true }

	attempts := 0
	err := Do(context.Background(), cfg, "test-op", func(ctx context.Context) error {
		attempts++
		return &statusErr{code: http.StatusBadRequest}
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if err == nil {
		t.Error("Do() error = nil, want failure after exhaustion")
	}
}

func TestDo_OnRetryObservesButCannotSuppress(t *testing.T) {
	var seen []int
	cfg := fastConfig(2)
	cfg.OnRetry = func(attempt int, err error) {
		seen = append(seen, attempt)
	}

	attempts := 0
	_ = Do(context.Background(), cfg, "test-op", func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (callback must not change the retry decision)", attempts)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", seen)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, fastConfig(5), "test-op", func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("Do() error = nil, want cancellation error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancellation must stop the loop)", attempts)
	}
}

func TestDelayFor(t *testing.T) {
	// Concrete scenario: maxRetries=3, initialDelay=1000ms, multiplier=2
	// -> delays 1000, 2000, 4000ms before attempts 2, 3, 4.
	cfg := Config{
		BaseDelay:  1000 * time.Millisecond,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := delayFor(cfg, attempt); got != w {
			t.Errorf("delayFor(attempt=%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDelayFor_Cap(t *testing.T) {
	cfg := Config{
		BaseDelay:  time.Second,
		MaxDelay:   3 * time.Second,
		Multiplier: 2.0,
	}
	if got := delayFor(cfg, 10); got != 3*time.Second {
		t.Errorf("delayFor(attempt=10) = %v, want cap %v", got, 3*time.Second)
	}
}

func TestDefaultRetryable_HTTPClientTimeout(t *testing.T) {
	// A per-request http.Client timeout unwraps to context.DeadlineExceeded,
	// but it is the server being slow, not the caller giving up, so it must
	// stay retryable.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected the request to time out")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout error = %v, expected it to unwrap to context.DeadlineExceeded", err)
	}
	if !DefaultRetryable(err) {
		t.Errorf("DefaultRetryable(%v) = false, want true (timeouts are retryable)", err)
	}
}

func TestDo_RetriesHTTPClientTimeout(t *testing.T) {
	// First request hangs past the client timeout, second answers. The
	// default predicate must let the timeout through to a retry.
	var requests atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			<-release
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	attempts := 0
	err := Do(context.Background(), fastConfig(2), "test-op", func(ctx context.Context) error {
		attempts++
		resp, err := client.Get(srv.URL)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v, want success after retrying the timeout", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "Rate Limited 429", err: &statusErr{code: http.StatusTooManyRequests}, want: true},
		{name: "Client Timeout 408", err: &statusErr{code: http.StatusRequestTimeout}, want: true},
		{name: "Server Error 500", err: &statusErr{code: http.StatusInternalServerError}, want: true},
		{name: "Unavailable 503", err: &statusErr{code: http.StatusServiceUnavailable}, want: true},
		{name: "Bad Request 400", err: &statusErr{code: http.StatusBadRequest}, want: false},
		{name: "Not Found 404", err: &statusErr{code: http.StatusNotFound}, want: false},
		{name: "Unauthorized 401", err: &statusErr{code: http.StatusUnauthorized}, want: false},
		{name: "Wrapped Status", err: fmt.Errorf("request failed: %w", &statusErr{code: 502}), want: true},
		{name: "Plain Network Error", err: errors.New("connection reset by peer"), want: true},
		{name: "Context Cancelled", err: context.Canceled, want: false},
		{name: "Deadline Exceeded", err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryable(tt.err); got != tt.want {
				t.Errorf("DefaultRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
