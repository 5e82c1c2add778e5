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

const (
	productsTable     = "products"
	productCodesTable = "product_codes"
)

type ProductRepository interface {
	// FindCode returns the stored barcode with the given code and format.
	FindCode(ctx context.Context, code, format string) (*entity.StoredProductCode, error)
	// Create stores a product and the barcode pointing at it. A barcode that
	// is already stored yields ErrConflict.
	Create(ctx context.Context, in *entity.ProductCodeCreate) (*entity.StoredProductCode, error)
}

type productRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewProductRepository(drv *entsql.Driver, logger *slog.Logger) ProductRepository {
	return &productRepository{drv: drv, logger: logger}
}

func (r *productRepository) FindCode(ctx context.Context, code, format string) (*entity.StoredProductCode, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select("id", "code", "format", "product_id", "created_at").
		From(b.Table(productCodesTable)).
		Where(entsql.And(entsql.EQ("code", code), entsql.EQ("format", format))).
		Query()

	var pc entity.StoredProductCode
	err := queryRow(ctx, conn(ctx, r.drv), query, args, func(rows *entsql.Rows) error {
		var created timeValue
		if err := rows.Scan(&pc.ID, &pc.Code, &pc.Format, &pc.ProductID, &created); err != nil {
			return err
		}
		pc.CreatedAt = created.Time
		return nil
	})
	if isNoRows(err) {
		return nil, common.NotFoundError("Product code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get product code: %v", common.ErrDatabase, err)
	}
	return &pc, nil
}

func (r *productRepository) Create(ctx context.Context, in *entity.ProductCodeCreate) (*entity.StoredProductCode, error) {
	now := time.Now().UTC()
	p := &entity.Product{Title: in.Product.Title, Description: in.Product.Description, CreatedAt: now}
	if len(in.Product.ImageURLs) > 0 {
		p.ImageURL = &in.Product.ImageURLs[0]
	}

	d := entsql.Dialect(r.drv.Dialect())
	var err error
	p.ID, err = insertReturningID(ctx, conn(ctx, r.drv), d.Insert(productsTable).
		Columns("title", "description", "img_url", "created_at").
		Values(p.Title, p.Description, p.ImageURL, now))
	if err != nil {
		r.logger.Error("failed to create product", "code", in.Code, "error", err)
		return nil, fmt.Errorf("%w: create product: %v", common.ErrDatabase, err)
	}

	pc := &entity.StoredProductCode{Code: in.Code, Format: in.Format, ProductID: p.ID, Product: p, CreatedAt: now}
	pc.ID, err = insertReturningID(ctx, conn(ctx, r.drv), d.Insert(productCodesTable).
		Columns("code", "format", "product_id", "created_at").
		Values(in.Code, in.Format, p.ID, now).
		OnConflict(entsql.ConflictColumns("code", "format"), entsql.DoNothing()))
	if isNoRows(err) {
		return nil, common.NewAppError("CONFLICT", "Product code already exists", common.ErrConflict)
	}
	if err != nil {
		r.logger.Error("failed to create product code", "code", in.Code, "error", err)
		return nil, fmt.Errorf("%w: create product code: %v", common.ErrDatabase, err)
	}
	return pc, nil
}
