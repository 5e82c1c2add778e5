package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const purchasesTable = "purchases"

var purchaseColumns = []string{
	"id", "read_entity_name", "read_entity_branch", "read_entity_location", "read_entity_address",
	"read_entity_identification", "read_entity_phone", "date", "subtotal", "discount", "tips",
	"total", "merchant_id", "items", "created_at",
}

type PurchaseRepository interface {
	Create(ctx context.Context, p *entity.Purchase) (*entity.Purchase, error)
	GetByID(ctx context.Context, id int64) (*entity.Purchase, error)
	// LinkMerchant points every unlinked purchase whose read identification
	// normalizes to identification at merchantID, returning how many changed.
	LinkMerchant(ctx context.Context, merchantID int64, identification string) (int, error)
	// LinkProduct sets productID on every unlinked item read with code as its
	// key, returning how many purchases changed.
	LinkProduct(ctx context.Context, code string, productID int64) (int, error)
}

type purchaseRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewPurchaseRepository(drv *entsql.Driver, logger *slog.Logger) PurchaseRepository {
	return &purchaseRepository{drv: drv, logger: logger}
}

func (r *purchaseRepository) Create(ctx context.Context, p *entity.Purchase) (*entity.Purchase, error) {
	items := p.Items
	if items == nil {
		items = []entity.PurchaseItem{}
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode purchase items: %w", err)
	}

	out := *p
	out.Items = items
	out.CreatedAt = time.Now().UTC()
	ib := entsql.Dialect(r.drv.Dialect()).Insert(purchasesTable).
		Columns(purchaseColumns[1:]...).
		Values(
			p.ReadEntityName, p.ReadEntityBranch, p.ReadEntityLocation, p.ReadEntityAddress,
			p.ReadEntityIdentification, p.ReadEntityPhone, p.Date.UTC(), p.Subtotal, p.Discount, p.Tips,
			p.Total, p.MerchantID, string(rawItems), out.CreatedAt,
		)

	out.ID, err = insertReturningID(ctx, conn(ctx, r.drv), ib)
	if err != nil {
		r.logger.Error("failed to create purchase", "error", err)
		return nil, fmt.Errorf("%w: create purchase: %v", common.ErrDatabase, err)
	}
	return &out, nil
}

func (r *purchaseRepository) GetByID(ctx context.Context, id int64) (*entity.Purchase, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select(purchaseColumns...).
		From(b.Table(purchasesTable)).
		Where(entsql.EQ("id", id)).
		Query()

	var p entity.Purchase
	err := queryRow(ctx, conn(ctx, r.drv), query, args, func(rows *entsql.Rows) error {
		var (
			name, branch, location, address, ident, phone entsql.NullString
			subtotal, discount, tips                      entsql.NullFloat64
			merchantID                                    entsql.NullInt64
			date, created                                 timeValue
			rawItems                                      []byte
		)
		if err := rows.Scan(&p.ID, &name, &branch, &location, &address, &ident, &phone,
			&date, &subtotal, &discount, &tips, &p.Total, &merchantID, &rawItems, &created); err != nil {
			return err
		}
		p.ReadEntityName, p.ReadEntityBranch = nullString(name), nullString(branch)
		p.ReadEntityLocation, p.ReadEntityAddress = nullString(location), nullString(address)
		p.ReadEntityIdentification, p.ReadEntityPhone = nullString(ident), nullString(phone)
		p.Subtotal, p.Discount, p.Tips = nullFloat(subtotal), nullFloat(discount), nullFloat(tips)
		p.MerchantID = nullInt64(merchantID)
		p.Date, p.CreatedAt = date.Time, created.Time
		return json.Unmarshal(rawItems, &p.Items)
	})
	if isNoRows(err) {
		return nil, common.NotFoundError("Purchase not found")
	}
	if err != nil {
		r.logger.Error("failed to get purchase", "purchase_id", id, "error", err)
		return nil, fmt.Errorf("%w: get purchase %d: %v", common.ErrDatabase, id, err)
	}
	return &p, nil
}

func (r *purchaseRepository) LinkMerchant(ctx context.Context, merchantID int64, identification string) (int, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select("id", "read_entity_identification").
		From(b.Table(purchasesTable)).
		Where(entsql.And(entsql.IsNull("merchant_id"), entsql.NotNull("read_entity_identification"))).
		Query()

	var rows entsql.Rows
	if err := conn(ctx, r.drv).Query(ctx, query, args, &rows); err != nil {
		return 0, fmt.Errorf("%w: list unlinked purchases: %v", common.ErrDatabase, err)
	}
	var ids []any
	for rows.Next() {
		var (
			id    int64
			ident string
		)
		if err := rows.Scan(&id, &ident); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scan purchase: %v", common.ErrDatabase, err)
		}
		if entity.NormalizeIdentification(ident) == identification {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("%w: list unlinked purchases: %v", common.ErrDatabase, err)
	}
	rows.Close()
	if len(ids) == 0 {
		return 0, nil
	}

	uq, uargs := b.Update(purchasesTable).
		Set("merchant_id", merchantID).
		Where(entsql.And(entsql.In("id", ids...), entsql.IsNull("merchant_id"))).
		Query()
	var res entsql.Result
	if err := conn(ctx, r.drv).Exec(ctx, uq, uargs, &res); err != nil {
		r.logger.Error("failed to link purchases", "merchant_id", merchantID, "error", err)
		return 0, fmt.Errorf("%w: link purchases: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	return int(n), nil
}

func (r *purchaseRepository) LinkProduct(ctx context.Context, code string, productID int64) (int, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select("id", "items").
		From(b.Table(purchasesTable)).
		Where(entsql.Contains("items", `"read_product_key":"`+code+`"`)).
		Query()

	var rows entsql.Rows
	if err := conn(ctx, r.drv).Query(ctx, query, args, &rows); err != nil {
		return 0, fmt.Errorf("%w: list purchases by product key: %v", common.ErrDatabase, err)
	}
	changed := map[int64][]entity.PurchaseItem{}
	for rows.Next() {
		var (
			id       int64
			rawItems []byte
			items    []entity.PurchaseItem
		)
		if err := rows.Scan(&id, &rawItems); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scan purchase: %v", common.ErrDatabase, err)
		}
		if err := json.Unmarshal(rawItems, &items); err != nil {
			r.logger.Warn("skipping purchase with unreadable items", "purchase_id", id, "error", err)
			continue
		}
		linked := false
		for i := range items {
			if items[i].ProductID == nil && items[i].ReadProductKey != nil && *items[i].ReadProductKey == code {
				items[i].ProductID = &productID
				linked = true
			}
		}
		if linked {
			changed[id] = items
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("%w: list purchases by product key: %v", common.ErrDatabase, err)
	}
	rows.Close()

	for id, items := range changed {
		rawItems, err := json.Marshal(items)
		if err != nil {
			return 0, fmt.Errorf("encode purchase items: %w", err)
		}
		uq, uargs := b.Update(purchasesTable).
			Set("items", string(rawItems)).
			Where(entsql.EQ("id", id)).
			Query()
		var res entsql.Result
		if err := conn(ctx, r.drv).Exec(ctx, uq, uargs, &res); err != nil {
			r.logger.Error("failed to link product", "purchase_id", id, "product_id", productID, "error", err)
			return 0, fmt.Errorf("%w: link product: %v", common.ErrDatabase, err)
		}
	}
	return len(changed), nil
}
