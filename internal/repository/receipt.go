package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

const receiptsTable = "receipts"

var receiptColumns = []string{
	"id", "status", "reference_name", "image_url", "purchase_id", "error_message", "created_at", "updated_at",
}

// StatusChange describes a guarded status update and the fields written with it.
type StatusChange struct {
	From         constants.ReceiptStatus
	To           constants.ReceiptStatus
	PurchaseID   *int64
	ErrorMessage *string
}

type ReceiptRepository interface {
	Create(ctx context.Context, referenceName, imageURL string) (*entity.Receipt, error)
	GetByID(ctx context.Context, id int64) (*entity.Receipt, error)
	// CompareAndSetStatus applies change only while the row still holds change.From.
	// It reports false when another writer got there first.
	CompareAndSetStatus(ctx context.Context, id int64, change StatusChange) (bool, error)
	ListReceipts(ctx context.Context, fromDate, toDate *time.Time) ([]*entity.Receipt, error)
}

type receiptRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
	now    func() time.Time
}

func NewReceiptRepository(drv *entsql.Driver, logger *slog.Logger) ReceiptRepository {
	return &receiptRepository{
		drv:    drv,
		logger: logger,
		now:    time.Now,
	}
}

func (r *receiptRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *receiptRepository) Create(ctx context.Context, referenceName, imageURL string) (*entity.Receipt, error) {
	now := r.now().UTC()
	ib := r.builder().Insert(receiptsTable).
		Columns("status", "reference_name", "image_url", "created_at", "updated_at").
		Values(string(constants.ReceiptStatusCreated), referenceName, imageURL, now, now)

	id, err := insertReturningID(ctx, conn(ctx, r.drv), ib)
	if err != nil {
		r.logger.Error("failed to create receipt", "reference_name", referenceName, "error", err)
		return nil, common.NewAppError("DB_ERROR", "create receipt", fmt.Errorf("%w: %v", common.ErrDatabase, err))
	}
	return &entity.Receipt{
		ID:            id,
		Status:        constants.ReceiptStatusCreated,
		ReferenceName: referenceName,
		ImageURL:      imageURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (r *receiptRepository) GetByID(ctx context.Context, id int64) (*entity.Receipt, error) {
	b := r.builder()
	query, args := b.Select(receiptColumns...).
		From(b.Table(receiptsTable)).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("deleted_at"))).
		Query()

	var rec *entity.Receipt
	err := queryRow(ctx, conn(ctx, r.drv), query, args, func(rows *entsql.Rows) error {
		var err error
		rec, err = scanReceipt(rows)
		return err
	})
	if isNoRows(err) {
		return nil, common.NotFoundError("Receipt not found")
	}
	if err != nil {
		r.logger.Error("failed to get receipt", "receipt_id", id, "error", err)
		return nil, fmt.Errorf("%w: get receipt %d: %v", common.ErrDatabase, id, err)
	}
	return rec, nil
}

func (r *receiptRepository) CompareAndSetStatus(ctx context.Context, id int64, change StatusChange) (bool, error) {
	ub := r.builder().Update(receiptsTable).
		Set("status", string(change.To)).
		Set("updated_at", r.now().UTC())
	if change.PurchaseID != nil {
		ub = ub.Set("purchase_id", *change.PurchaseID)
	}
	if change.ErrorMessage != nil {
		ub = ub.Set("error_message", *change.ErrorMessage)
	}
	query, args := ub.Where(entsql.And(
		entsql.EQ("id", id),
		entsql.EQ("status", string(change.From)),
		entsql.IsNull("deleted_at"),
	)).Query()

	var res entsql.Result
	if err := conn(ctx, r.drv).Exec(ctx, query, args, &res); err != nil {
		r.logger.Error("failed to update receipt status", "receipt_id", id, "from", change.From, "to", change.To, "error", err)
		return false, fmt.Errorf("%w: update receipt %d: %v", common.ErrDatabase, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	return n == 1, nil
}

func (r *receiptRepository) ListReceipts(ctx context.Context, fromDate, toDate *time.Time) ([]*entity.Receipt, error) {
	b := r.builder()
	preds := []*entsql.Predicate{entsql.IsNull("deleted_at")}
	if fromDate != nil {
		preds = append(preds, entsql.GTE("created_at", fromDate.UTC()))
	}
	if toDate != nil {
		// inclusive of the whole "to" day
		preds = append(preds, entsql.LT("created_at", toDate.UTC().AddDate(0, 0, 1)))
	}
	query, args := b.Select(receiptColumns...).
		From(b.Table(receiptsTable)).
		Where(entsql.And(preds...)).
		OrderBy("id").
		Query()

	var rows entsql.Rows
	if err := conn(ctx, r.drv).Query(ctx, query, args, &rows); err != nil {
		r.logger.Error("failed to list receipts", "error", err)
		return nil, fmt.Errorf("%w: list receipts: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Receipt
	for rows.Next() {
		rec, err := scanReceipt(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanReceipt(rows *entsql.Rows) (*entity.Receipt, error) {
	var (
		rec        entity.Receipt
		status     string
		purchaseID entsql.NullInt64
		errMsg     entsql.NullString
		created    timeValue
		updated    timeValue
	)
	if err := rows.Scan(&rec.ID, &status, &rec.ReferenceName, &rec.ImageURL, &purchaseID, &errMsg, &created, &updated); err != nil {
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	rec.Status = constants.ReceiptStatus(status)
	rec.PurchaseID = nullInt64(purchaseID)
	rec.ErrorMessage = nullString(errMsg)
	rec.CreatedAt = created.Time
	rec.UpdatedAt = updated.Time
	return &rec, nil
}
