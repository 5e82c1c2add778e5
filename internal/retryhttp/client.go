// Package retryhttp is an HTTP client that keeps retrying on transport
// failures until it gets any response or is cancelled.
package retryhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/internal/metrics"
)

// DefaultWaits is the back-off between attempts; the last entry repeats.
var DefaultWaits = []time.Duration{
	0,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	45 * time.Second,
	60 * time.Second,
}

// ErrCancelled is returned when the context ends before a response arrives.
var ErrCancelled = errors.New("request cancelled")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper. A non-positive d only reports whether
// ctx is already done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response (status %d): %w", r.StatusCode, err)
	}
	return nil
}

func (r *Response) OK() bool { return r.StatusCode/100 == 2 }

type Client struct {
	http    *http.Client
	waits   []time.Duration
	sleep   Sleeper
	headers map[string]string
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithWaits(waits []time.Duration) Option {
	return func(cl *Client) { cl.waits = waits }
}

func WithSleeper(s Sleeper) Option {
	return func(cl *Client) { cl.sleep = s }
}

// WithHeader sets a header sent with every request, such as Authorization.
func WithHeader(key, value string) Option {
	return func(cl *Client) { cl.headers[key] = value }
}

func New(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		waits:   DefaultWaits,
		sleep:   SleepContext,
		headers: map[string]string{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) wait(attempt int) time.Duration {
	if len(c.waits) == 0 {
		return 0
	}
	if attempt < len(c.waits) {
		return c.waits[attempt]
	}
	return c.waits[len(c.waits)-1]
}

// Send issues the request until the server answers with any status. body is
// JSON-encoded when non-nil. Only cancelling ctx stops the retries.
func (c *Client) Send(ctx context.Context, method, url string, body any, headers map[string]string) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
	}

	reqID := uuid.New().String()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		resp, err := c.do(ctx, reqID, method, url, payload, headers)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		d := c.wait(attempt)
		metrics.HTTPRetries.Inc()
		c.logger.Warn("http.retry",
			"req_id", reqID, "method", method, "url", url,
			"attempt", attempt+1, "wait", d, "error", err)
		if err := c.sleep(ctx, d); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
}

func (c *Client) do(ctx context.Context, reqID, method, url string, payload []byte, headers map[string]string) (*Response, error) {
	start := time.Now()
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.logger.Info("http.response",
		"req_id", reqID,
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Send(ctx, http.MethodGet, url, nil, nil)
}

func (c *Client) PostJSON(ctx context.Context, url string, body any) (*Response, error) {
	return c.Send(ctx, http.MethodPost, url, body, nil)
}
