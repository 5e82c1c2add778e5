package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const merchantsTable = "merchants"

var merchantColumns = []string{"id", "name", "identification", "address", "location", "phone", "created_at", "updated_at"}

type MerchantRepository interface {
	GetByIdentification(ctx context.Context, identification string) (*entity.Merchant, error)
	// Upsert inserts a merchant or refreshes the one with the same identification.
	Upsert(ctx context.Context, m *entity.Merchant) (*entity.Merchant, error)
}

type merchantRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewMerchantRepository(drv *entsql.Driver, logger *slog.Logger) MerchantRepository {
	return &merchantRepository{drv: drv, logger: logger}
}

func (r *merchantRepository) GetByIdentification(ctx context.Context, identification string) (*entity.Merchant, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select(merchantColumns...).
		From(b.Table(merchantsTable)).
		Where(entsql.EQ("identification", identification)).
		Query()

	var m entity.Merchant
	err := queryRow(ctx, conn(ctx, r.drv), query, args, func(rows *entsql.Rows) error {
		var (
			address, location, phone entsql.NullString
			created, updated         timeValue
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Identification, &address, &location, &phone, &created, &updated); err != nil {
			return err
		}
		m.Address, m.Location, m.Phone = nullString(address), nullString(location), nullString(phone)
		m.CreatedAt, m.UpdatedAt = created.Time, updated.Time
		return nil
	})
	if isNoRows(err) {
		return nil, common.NotFoundError("Merchant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get merchant: %v", common.ErrDatabase, err)
	}
	return &m, nil
}

func (r *merchantRepository) Upsert(ctx context.Context, m *entity.Merchant) (*entity.Merchant, error) {
	now := time.Now().UTC()
	ib := entsql.Dialect(r.drv.Dialect()).Insert(merchantsTable).
		Columns("name", "identification", "address", "location", "phone", "created_at", "updated_at").
		Values(m.Name, m.Identification, m.Address, m.Location, m.Phone, now, now).
		OnConflict(
			entsql.ConflictColumns("identification"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("name")
				u.SetExcluded("address")
				u.SetExcluded("location")
				u.SetExcluded("phone")
				u.SetExcluded("updated_at")
			}),
		)
	if _, err := insertReturningID(ctx, conn(ctx, r.drv), ib); err != nil {
		r.logger.Error("failed to upsert merchant", "identification", m.Identification, "error", err)
		return nil, fmt.Errorf("%w: upsert merchant: %v", common.ErrDatabase, err)
	}
	return r.GetByIdentification(ctx, m.Identification)
}
