package crawl_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/crawl"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository/repotest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
)

// authorizeServer answers with the given statuses in order, then 200.
func authorizeServer(t *testing.T, statuses ...int) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/node_tokens/authorize_crawl", r.URL.Path)
		assert.Equal(t, "Bearer node-secret", r.Header.Get("Authorization"))
		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			_, _ = w.Write([]byte(`{"detail":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"Authorized","uses_today":7}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAdmission(srv *httptest.Server, sleeps *[]time.Duration) *crawl.Admission {
	client := retryhttp.New(repotest.Logger(), retryhttp.WithHeader("Authorization", "Bearer node-secret"))
	return crawl.NewAdmission(client, srv.URL+"/", repotest.Logger(),
		crawl.WithAdmissionSleeper(func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return ctx.Err()
		}))
}

// TestAdmissionEscalatesOnLimit tests the back-off table across repeated 429s.
func TestAdmissionEscalatesOnLimit(t *testing.T) {
	statuses := make([]int, 10)
	for i := range statuses {
		statuses[i] = http.StatusTooManyRequests
	}
	var sleeps []time.Duration
	a := newAdmission(authorizeServer(t, statuses...), &sleeps)

	uses, err := a.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, uses)

	s := time.Second
	assert.Equal(t, []time.Duration{
		30 * s, 60 * s, 90 * s, 150 * s, 240 * s, 390 * s, 630 * s, 1800 * s, 3600 * s, 3600 * s,
	}, sleeps)
}

// TestAdmissionAuthorizedImmediately tests the happy path without waiting.
func TestAdmissionAuthorizedImmediately(t *testing.T) {
	var sleeps []time.Duration
	uses, err := newAdmission(authorizeServer(t), &sleeps).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, uses)
	assert.Empty(t, sleeps)
}

// TestAdmissionRefused tests how 401 and 403 are reported.
func TestAdmissionRefused(t *testing.T) {
	var sleeps []time.Duration

	_, err := newAdmission(authorizeServer(t, http.StatusUnauthorized), &sleeps).Wait(context.Background())
	assert.ErrorIs(t, err, crawl.ErrTokenNotCrawlEligible)

	_, err = newAdmission(authorizeServer(t, http.StatusForbidden), &sleeps).Wait(context.Background())
	assert.ErrorIs(t, err, common.ErrForbidden)
	assert.Empty(t, sleeps)
}

// TestAdmissionCancelled tests that cancelling during a back-off stops the wait.
func TestAdmissionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := authorizeServer(t, http.StatusTooManyRequests, http.StatusTooManyRequests)
	client := retryhttp.New(repotest.Logger(), retryhttp.WithHeader("Authorization", "Bearer node-secret"))
	a := crawl.NewAdmission(client, srv.URL+"/", repotest.Logger(),
		crawl.WithAdmissionSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := a.Wait(ctx)
	assert.ErrorIs(t, err, retryhttp.ErrCancelled)
}

// TestPacerSpacesActions tests that consecutive waits are spaced by the interval.
func TestPacerSpacesActions(t *testing.T) {
	p := crawl.NewPacer(40 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)

	unlimited := crawl.NewPacer(0)
	start = time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
