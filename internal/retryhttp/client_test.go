package retryhttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// flakyTransport fails the first n requests with a transport error.
func flakyTransport(n int) http.RoundTripper {
	var mu sync.Mutex
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if n > 0 {
			n--
			return nil, errors.New("connection refused")
		}
		return http.DefaultTransport.RoundTrip(r)
	})
}

type recordedSleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newClient(rt http.RoundTripper, sleeps *recordedSleeps) *Client {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithHTTPClient(&http.Client{Transport: rt}),
		WithSleeper(sleeps.sleep))
}

// TestSendRetriesTransportErrors tests the wait table and its repeating tail.
func TestSendRetriesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"id":1}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	c := newClient(flakyTransport(9), sleeps)

	resp, err := c.PostJSON(context.Background(), srv.URL, map[string]int{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct{ OK bool }
	require.NoError(t, resp.DecodeJSON(&out))
	assert.True(t, out.OK)

	s := time.Second
	assert.Equal(t, []time.Duration{0, 5 * s, 10 * s, 15 * s, 30 * s, 45 * s, 60 * s, 60 * s, 60 * s}, sleeps.waits)
}

// TestSendReturnsErrorStatuses tests that 4xx and 5xx are responses, not retries.
func TestSendReturnsErrorStatuses(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusConflict, http.StatusTooManyRequests, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		sleeps := &recordedSleeps{}
		c := newClient(http.DefaultTransport, sleeps)

		resp, err := c.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		assert.False(t, resp.OK())
		assert.Empty(t, sleeps.waits)
		srv.Close()
	}
}

// TestSendCancelled tests that cancellation during back-off ends the loop.
func TestSendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithHTTPClient(&http.Client{Transport: flakyTransport(1000)}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			sleeps++
			if sleeps == 3 {
				cancel()
			}
			return ctx.Err()
		}))

	_, err := c.Get(ctx, "http://127.0.0.1:1/never")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, sleeps)
}

// TestSendAlreadyCancelled tests that no request is made on a dead context.
func TestSendAlreadyCancelled(t *testing.T) {
	calls := 0
	c := New(nil, WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("unreachable")
	})}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "http://example.invalid")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, calls)
}

// TestDefaultHeaders tests that client-wide headers are sent.
func TestDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(nil, WithHeader("Authorization", "Bearer s3cret"))
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

// TestSleepContext tests that the shared sleeper waits out d and stops early on cancel.
func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, SleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, SleepContext(ctx, 0), context.Canceled)
}
