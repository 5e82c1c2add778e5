package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

type txKey struct{}

// TxRunner runs a function inside one database transaction. Repository calls
// made with the context handed to fn join that transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txRunner struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewTxRunner(drv *entsql.Driver, logger *slog.Logger) TxRunner {
	return &txRunner{drv: drv, logger: logger}
}

// RunInTx commits when fn returns nil and rolls back otherwise. Nested calls
// reuse the outer transaction.
func (r *txRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(dialect.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", common.ErrDatabase, err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			r.logger.Error("failed to roll back transaction", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", common.ErrDatabase, err)
	}
	return nil
}

// conn returns the transaction carried by ctx, or drv outside of one.
func conn(ctx context.Context, drv *entsql.Driver) dialect.ExecQuerier {
	if tx, ok := ctx.Value(txKey{}).(dialect.Tx); ok {
		return tx
	}
	return drv
}
