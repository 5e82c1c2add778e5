package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const nodeTokensTable = "node_tokens"

type NodeTokenRepository interface {
	Create(ctx context.Context, name, secret string, crawlDailyLimit int, canViewImages bool) (*entity.NodeToken, error)
	GetBySecret(ctx context.Context, secret string) (*entity.NodeToken, error)
}

type nodeTokenRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewNodeTokenRepository(drv *entsql.Driver, logger *slog.Logger) NodeTokenRepository {
	return &nodeTokenRepository{drv: drv, logger: logger}
}

// HashSecret returns the hex SHA-256 digest stored in node_tokens.key_hash.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func (r *nodeTokenRepository) Create(ctx context.Context, name, secret string, crawlDailyLimit int, canViewImages bool) (*entity.NodeToken, error) {
	now := time.Now().UTC()
	ib := entsql.Dialect(r.drv.Dialect()).Insert(nodeTokensTable).
		Columns("name", "key_hash", "crawl_daily_limit", "can_view_receipt_images", "created_at").
		Values(name, HashSecret(secret), crawlDailyLimit, canViewImages, now)

	id, err := insertReturningID(ctx, conn(ctx, r.drv), ib)
	if err != nil {
		r.logger.Error("failed to create node token", "name", name, "error", err)
		return nil, fmt.Errorf("%w: create node token: %v", common.ErrDatabase, err)
	}
	return &entity.NodeToken{
		ID:                   id,
		Name:                 name,
		KeyHash:              HashSecret(secret),
		CrawlDailyLimit:      crawlDailyLimit,
		CanViewReceiptImages: canViewImages,
		CreatedAt:            now,
	}, nil
}

func (r *nodeTokenRepository) GetBySecret(ctx context.Context, secret string) (*entity.NodeToken, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select("id", "name", "key_hash", "crawl_daily_limit", "can_view_receipt_images", "created_at").
		From(b.Table(nodeTokensTable)).
		Where(entsql.EQ("key_hash", HashSecret(secret))).
		Query()

	var tok entity.NodeToken
	err := queryRow(ctx, conn(ctx, r.drv), query, args, func(rows *entsql.Rows) error {
		var created timeValue
		if err := rows.Scan(&tok.ID, &tok.Name, &tok.KeyHash, &tok.CrawlDailyLimit, &tok.CanViewReceiptImages, &created); err != nil {
			return err
		}
		tok.CreatedAt = created.Time
		return nil
	})
	if isNoRows(err) {
		return nil, common.NewAppError("INVALID_TOKEN", "Invalid token", common.ErrForbidden)
	}
	if err != nil {
		r.logger.Error("failed to look up node token", "error", err)
		return nil, fmt.Errorf("%w: get node token: %v", common.ErrDatabase, err)
	}
	return &tok, nil
}
