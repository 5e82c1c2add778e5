// Package crawl caps how many external lookups each node token may run per
// day, on both the API side and the worker side.
package crawl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/metrics"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

var (
	ErrTokenNotCrawlEligible = common.NewAppError("CRAWL_NOT_ALLOWED", "Token not allowed to crawl", common.ErrUnauthorized)
	ErrQuotaExceeded         = common.NewAppError("CRAWL_LIMIT", "Daily crawl limit reached", common.ErrRateLimited)
)

// Controller admits crawl requests against each token's daily limit.
type Controller struct {
	counters repository.CrawlCounterRepository
	now      func() time.Time
	logger   *slog.Logger
}

type ControllerOption func(*Controller)

// WithClock replaces time.Now, mostly for tests around midnight UTC.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

func NewController(counters repository.CrawlCounterRepository, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{counters: counters, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize records one crawl for token today and returns the day's count.
// The check and the increment are one statement, so concurrent callers can
// never push the count past the limit.
func (c *Controller) Authorize(ctx context.Context, token *entity.NodeToken) (int, error) {
	if token.CrawlDailyLimit <= 0 {
		metrics.CrawlAdmissions.WithLabelValues("not_eligible").Inc()
		return 0, ErrTokenNotCrawlEligible
	}
	day := c.now().UTC()
	uses, err := c.counters.Increment(ctx, token.ID, day, token.CrawlDailyLimit)
	if errors.Is(err, repository.ErrLimitReached) {
		metrics.CrawlAdmissions.WithLabelValues("limited").Inc()
		c.logger.Info("crawl limit reached", "node_token_id", token.ID, "limit", token.CrawlDailyLimit)
		return 0, ErrQuotaExceeded
	}
	if err != nil {
		metrics.CrawlAdmissions.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.CrawlAdmissions.WithLabelValues("authorized").Inc()
	c.logger.Debug("crawl authorized", "node_token_id", token.ID, "uses_today", uses)
	return uses, nil
}
