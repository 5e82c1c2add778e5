package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

const crawlCountersTable = "crawl_counters"

// ErrLimitReached is returned by Increment when the counter already holds the limit.
var ErrLimitReached = errors.New("crawl counter at limit")

type CrawlCounterRepository interface {
	// Increment atomically adds one use for (tokenID, day) as long as the stored
	// count is below limit, creating the row on first use. It returns the new count.
	Increment(ctx context.Context, tokenID int64, day time.Time, limit int) (int, error)
	Uses(ctx context.Context, tokenID int64, day time.Time) (int, error)
}

type crawlCounterRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewCrawlCounterRepository(drv *entsql.Driver, logger *slog.Logger) CrawlCounterRepository {
	return &crawlCounterRepository{drv: drv, logger: logger}
}

func dayKey(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

// Increment runs a single upsert:
//
//	INSERT INTO crawl_counters (node_token_id, date, uses) VALUES (?, ?, 1)
//	ON CONFLICT (node_token_id, date) DO UPDATE SET uses = uses + 1
//	WHERE crawl_counters.uses < limit
//	RETURNING uses
//
// No returned row means the conflicting row is already at the limit.
func (r *crawlCounterRepository) Increment(ctx context.Context, tokenID int64, day time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, ErrLimitReached
	}
	ib := entsql.Dialect(r.drv.Dialect()).Insert(crawlCountersTable).
		Columns("node_token_id", "date", "uses").
		Values(tokenID, dayKey(day), 1).
		OnConflict(
			entsql.ConflictColumns("node_token_id", "date"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("uses", 1)
			}),
			entsql.UpdateWhere(entsql.LT(entsql.Table(crawlCountersTable).C("uses"), limit)),
		)
	query, args := ib.Query()

	var uses int
	err := queryRow(ctx, conn(ctx, r.drv), query+` RETURNING "uses"`, args, func(rows *entsql.Rows) error {
		return rows.Scan(&uses)
	})
	if isNoRows(err) {
		return 0, ErrLimitReached
	}
	if err != nil {
		r.logger.Error("failed to increment crawl counter", "node_token_id", tokenID, "date", dayKey(day), "error", err)
		return 0, fmt.Errorf("%w: increment crawl counter: %v", common.ErrDatabase, err)
	}
	return uses, nil
}

func (r *crawlCounterRepository) Uses(ctx context.Context, tokenID int64, day time.Time) (int, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select("uses").
		From(b.Table(crawlCountersTable)).
		Where(entsql.And(entsql.EQ("node_token_id", tokenID), entsql.EQ("date", dayKey(day)))).
		Query()

	var uses int
	err := queryRow(ctx, conn(ctx, r.drv), query, args, func(rows *entsql.Rows) error {
		return rows.Scan(&uses)
	})
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read crawl counter: %v", common.ErrDatabase, err)
	}
	return uses, nil
}
