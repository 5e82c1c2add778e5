package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
)

// LimitWaits is how long a worker backs off after each consecutive 429; the
// last entry repeats.
var LimitWaits = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	90 * time.Second,
	150 * time.Second,
	240 * time.Second,
	390 * time.Second,
	630 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
}

// Admission asks the API for permission before each crawl.
type Admission struct {
	client *retryhttp.Client
	url    string
	waits  []time.Duration
	sleep  retryhttp.Sleeper
	logger *slog.Logger
}

type AdmissionOption func(*Admission)

func WithLimitWaits(waits []time.Duration) AdmissionOption {
	return func(a *Admission) { a.waits = waits }
}

func WithAdmissionSleeper(s retryhttp.Sleeper) AdmissionOption {
	return func(a *Admission) { a.sleep = s }
}

// NewAdmission builds a client for serverURL + "node_tokens/authorize_crawl".
// client must already carry the node's bearer token.
func NewAdmission(client *retryhttp.Client, serverURL string, logger *slog.Logger, opts ...AdmissionOption) *Admission {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Admission{
		client: client,
		url:    serverURL + "node_tokens/authorize_crawl",
		waits:  LimitWaits,
		sleep:  retryhttp.SleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Wait blocks until the API authorizes a crawl and returns today's count.
func (a *Admission) Wait(ctx context.Context) (int, error) {
	for limited := 0; ; limited++ {
		resp, err := a.client.PostJSON(ctx, a.url, struct{}{})
		if err != nil {
			return 0, err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			var auth entity.CrawlAuthorization
			if err := resp.DecodeJSON(&auth); err != nil {
				return 0, err
			}
			return auth.UsesToday, nil
		case http.StatusTooManyRequests:
			d := a.waits[len(a.waits)-1]
			if limited < len(a.waits) {
				d = a.waits[limited]
			}
			a.logger.Info("crawl limit reached, waiting", "wait", d, "attempt", limited+1)
			if err := a.sleep(ctx, d); err != nil {
				return 0, fmt.Errorf("%w: %w", retryhttp.ErrCancelled, err)
			}
		case http.StatusUnauthorized:
			return 0, ErrTokenNotCrawlEligible
		case http.StatusForbidden:
			return 0, common.NewAppError("INVALID_TOKEN", "Invalid token", common.ErrForbidden)
		default:
			return 0, fmt.Errorf("authorize crawl: unexpected status %d: %s", resp.StatusCode, resp.Body)
		}
	}
}
