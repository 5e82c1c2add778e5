package receipts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// casAttempts bounds how often a transition is re-evaluated after losing a race.
const casAttempts = 3

// Service drives receipts through the lifecycle table and persists each step.
type Service struct {
	receiptRepo repository.ReceiptRepository
	logger      *slog.Logger
}

// NewService creates a new receipt service.
func NewService(receiptRepo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		receiptRepo: receiptRepo,
		logger:      logger,
	}
}

// Get returns a receipt or an ErrNotFound-wrapping error.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Receipt, error) {
	return s.receiptRepo.GetByID(ctx, id)
}

// Create stores a new receipt in CREATED.
func (s *Service) Create(ctx context.Context, referenceName, imageURL string) (*entity.Receipt, error) {
	rec, err := s.receiptRepo.Create(ctx, referenceName, imageURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("receipt created", "receipt_id", rec.ID, "reference_name", referenceName)
	return rec, nil
}

// Queue moves a freshly published receipt to WAITING.
func (s *Service) Queue(ctx context.Context, id int64) (*entity.Receipt, error) {
	return s.Fire(ctx, id, TriggerQueue, nil)
}

// Select hands a WAITING receipt to a worker.
func (s *Service) Select(ctx context.Context, id int64) (*entity.Receipt, error) {
	return s.Fire(ctx, id, TriggerSelect, nil)
}

// Cancel withdraws a receipt nobody picked up yet.
func (s *Service) Cancel(ctx context.Context, id int64) (*entity.Receipt, error) {
	return s.Fire(ctx, id, TriggerCancel, nil)
}

// Fail marks the receipt FAILED, recording message when it is not empty.
func (s *Service) Fail(ctx context.Context, id int64, message string) (*entity.Receipt, error) {
	return s.Fire(ctx, id, TriggerFail, func(c *repository.StatusChange) {
		if message != "" {
			c.ErrorMessage = &message
		}
	})
}

// Complete links the purchase and moves the receipt to COMPLETED.
func (s *Service) Complete(ctx context.Context, id, purchaseID int64) (*entity.Receipt, error) {
	return s.Fire(ctx, id, TriggerComplete, func(c *repository.StatusChange) {
		c.PurchaseID = &purchaseID
	})
}

// CheckComplete reports whether Complete would currently be legal, without writing.
func (s *Service) CheckComplete(ctx context.Context, id int64) (*entity.Receipt, error) {
	rec, err := s.receiptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(rec.Status, TriggerComplete); err != nil {
		return rec, err
	}
	return rec, nil
}

// Fire evaluates trigger against the stored status and writes the result with a
// compare-and-swap. A lost race is re-read and re-evaluated, so a concurrent
// writer turns into IllegalTransition rather than a silent overwrite.
func (s *Service) Fire(ctx context.Context, id int64, trigger Trigger, with func(*repository.StatusChange)) (*entity.Receipt, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		rec, err := s.receiptRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := Next(rec.Status, trigger)
		if err != nil {
			s.logger.Warn("illegal receipt transition", "receipt_id", id, "trigger", trigger, "status", rec.Status)
			return rec, err
		}

		change := repository.StatusChange{From: rec.Status, To: next}
		if with != nil {
			with(&change)
		}
		ok, err := s.receiptRepo.CompareAndSetStatus(ctx, id, change)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug("receipt changed concurrently, re-evaluating", "receipt_id", id, "trigger", trigger, "attempt", attempt)
			continue
		}

		rec.Status = next
		if change.PurchaseID != nil {
			rec.PurchaseID = change.PurchaseID
		}
		if change.ErrorMessage != nil {
			rec.ErrorMessage = change.ErrorMessage
		}
		s.logger.Info("receipt transition", "receipt_id", id, "trigger", trigger, "from", change.From, "to", next)
		return rec, nil
	}
	return nil, common.NewAppError("CONFLICT", "receipt is being modified concurrently", common.ErrConflict)
}

// IsIllegal reports whether err came from the lifecycle table.
func IsIllegal(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}
