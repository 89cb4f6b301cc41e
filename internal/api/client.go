// Package api is the HTTP surface of the sync engine: feed fetches for the
// poll scheduler and mutation delivery for the durable queue. The server is
// expected to treat re-delivered mutations as idempotent.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is a failed HTTP exchange. It exposes the response code so the
// retry predicate can separate transient server trouble from bad requests.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// HTTPStatus implements the classification hook used by retry.DefaultRetryable.
func (e *StatusError) HTTPStatus() int {
	return e.Code
}

// Client talks to the care service over plain HTTP. Per-request timeouts live
// here; retry policy is layered on top by the callers.
type Client struct {
	// BaseURL is the service root, e.g. "https://care.example.com/api/v1".
	BaseURL string
	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string
	// Timeout bounds each individual request. Zero means 30s.
	Timeout time.Duration

	httpClient *http.Client
}

func (c *Client) client() *http.Client {
	if c.httpClient == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	return c.httpClient
}

func (c *Client) url(endpoint string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

func (c *Client) prepare(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
}

// FetchFeed retrieves the current state of a logical data feed as raw JSON.
// This is the fetch operation handed to poller sessions.
func (c *Client) FetchFeed(ctx context.Context, feed string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(feed), nil)
	if err != nil {
		return nil, err
	}
	c.prepare(req)

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %q: %w", feed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed %q: %w", feed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: string(body)}
	}

	return body, nil
}

// Deliver sends one queued mutation to the service. The payload must already
// be valid JSON; method and endpoint come from the queued operation.
func (c *Client) Deliver(ctx context.Context, endpoint, method string, payload json.RawMessage) error {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	c.prepare(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("delivering %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: string(msg)}
	}

	return nil
}
