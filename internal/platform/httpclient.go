package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

// Client is the shared vendor HTTP client. Every call carries a bounded
// timeout; transport-level failures are retried once with backoff, while
// vendor rejections surface as statusError and are never retried here.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	retryDelay time.Duration
}

// NewClient constructs a vendor API client. The underlying transport is the
// process default so OpenTelemetry instrumentation applies.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:       &http.Client{},
		timeout:    timeout,
		retryDelay: 500 * time.Millisecond,
	}
}

// statusError is a non-2xx vendor response. Adapters map it onto the error
// taxonomy based on the endpoint and status code.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("vendor returned status %d: %s", e.Status, e.Body)
}

// asRejection extracts a vendor rejection from err. Transport-level failures
// wrap a statusError too; those are excluded here so they stay retryable.
func asRejection(err error) (*statusError, bool) {
	if IsTransient(err) {
		return nil, false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status, true
	}
	return nil, false
}

func (c *Client) getJSON(ctx context.Context, p Platform, op, rawURL string, header http.Header, out any) error {
	return c.do(ctx, p, op, http.MethodGet, rawURL, "", nil, header, out)
}

func (c *Client) postForm(ctx context.Context, p Platform, op, rawURL string, form url.Values, out any) error {
	body := []byte(form.Encode())
	return c.do(ctx, p, op, http.MethodPost, rawURL, "application/x-www-form-urlencoded", body, nil, out)
}

func (c *Client) postJSON(ctx context.Context, p Platform, op, rawURL string, payload any, header http.Header, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %s: encode request: %w", p, op, err)
	}
	return c.do(ctx, p, op, http.MethodPost, rawURL, "application/json", body, header, out)
}

func (c *Client) do(ctx context.Context, p Platform, op, method, rawURL, contentType string, body []byte, header http.Header, out any) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, rawURL, reader)
		if err != nil {
			return fmt.Errorf("%s: %s: build request: %w", p, op, err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return &TransportError{Platform: p, Op: op, Err: err}
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &TransportError{Platform: p, Op: op, Err: err}
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &TransportError{Platform: p, Op: op, Err: &statusError{Status: resp.StatusCode, Body: truncate(payload)}}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &statusError{Status: resp.StatusCode, Body: truncate(payload)}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%s: %s: decode response: %w", p, op, err)
		}
		return nil
	}

	err := attempt()
	if err == nil || !IsTransient(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return &TransportError{Platform: p, Op: op, Err: ctx.Err()}
	case <-time.After(c.retryDelay):
	}
	return attempt()
}

func truncate(body []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit]
	}
	return text
}
