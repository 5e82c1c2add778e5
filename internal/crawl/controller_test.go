package crawl_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/crawl"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository/repotest"
)

type fixture struct {
	tokens     repository.NodeTokenRepository
	controller *crawl.Controller
	now        time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	drv := repotest.NewDriver(t)
	f := &fixture{
		tokens: repository.NewNodeTokenRepository(drv, repotest.Logger()),
		now:    time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC),
	}
	f.controller = crawl.NewController(
		repository.NewCrawlCounterRepository(drv, repotest.Logger()),
		repotest.Logger(),
		crawl.WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) token(t *testing.T, limit int) *entity.NodeToken {
	t.Helper()
	tok, err := f.tokens.Create(context.Background(), "crawler", "secret", limit, false)
	require.NoError(t, err)
	return tok
}

// TestAuthorizeCountsUpToLimit tests the daily count and the 429 mapping past the limit.
func TestAuthorizeCountsUpToLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tok := f.token(t, 2)

	uses, err := f.controller.Authorize(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 1, uses)
	uses, err = f.controller.Authorize(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 2, uses)

	_, err = f.controller.Authorize(ctx, tok)
	assert.ErrorIs(t, err, crawl.ErrQuotaExceeded)
	assert.Equal(t, 429, common.HTTPStatus(err))

	f.now = f.now.Add(2 * time.Minute)
	uses, err = f.controller.Authorize(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 1, uses, "the count resets on the next UTC day")
}

// TestAuthorizeNotEligible tests that tokens without a crawl limit are refused.
func TestAuthorizeNotEligible(t *testing.T) {
	f := setup(t)
	_, err := f.controller.Authorize(context.Background(), f.token(t, 0))
	assert.ErrorIs(t, err, crawl.ErrTokenNotCrawlEligible)
	assert.Equal(t, 401, common.HTTPStatus(err))
}

// TestAuthorizeConcurrent tests that racing callers never both pass a limit of one.
func TestAuthorizeConcurrent(t *testing.T) {
	f := setup(t)
	tok := f.token(t, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []int
		limited int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uses, err := f.controller.Authorize(context.Background(), tok)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted = append(granted, uses)
			case errors.Is(err, crawl.ErrQuotaExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{1}, granted)
	assert.Equal(t, 3, limited)
}
