package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/messaging"
	"github.com/joseph-ayodele/receipts-pipeline/internal/receipts"
)

// Publisher sends a JSON payload to an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, payload any) error
}

// Service handles upload business logic.
type Service struct {
	store     *ingest.FSStore
	receipts  *receipts.Service
	publisher Publisher
	route     messaging.Route
	imagesURL string
	logger    *slog.Logger
}

// NewService creates a new upload service. Receipts are published to route and
// their image_url is serverURL + "receipts/images/" + the stored path.
func NewService(store *ingest.FSStore, rs *receipts.Service, pub Publisher, route messaging.Route, serverURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		receipts:  rs,
		publisher: pub,
		route:     route,
		imagesURL: serverURL + "receipts/images/",
		logger:    logger,
	}
}

// Upload stores every file, creates one receipt per file and hands the stored
// ones to the image reader. Files that cannot be stored end up FAILED with an
// error message. Only database errors abort the batch.
func (s *Service) Upload(ctx context.Context, clientIP string, files []ingest.Upload) ([]*entity.Receipt, error) {
	out := make([]*entity.Receipt, 0, len(files))
	var stored []int

	for _, f := range files {
		rec, ok, err := s.accept(ctx, clientIP, f)
		if err != nil {
			return nil, err
		}
		if ok {
			stored = append(stored, len(out))
		}
		out = append(out, rec)
	}

	for _, i := range stored {
		rec, err := s.dispatch(ctx, out[i])
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}

	s.logger.Info("upload processed", "files", len(files), "dispatched", len(stored), "client_ip_hash", ingest.HashIP(clientIP)[:12])
	return out, nil
}

// accept creates the receipt for f and writes its content. ok is false when the
// receipt was failed instead.
func (s *Service) accept(ctx context.Context, clientIP string, f ingest.Upload) (*entity.Receipt, bool, error) {
	ext := constants.ExtFromName(f.Name)
	if !ingest.AllowedExt(ext) {
		rec, err := s.receipts.Create(ctx, f.Name, "")
		if err != nil {
			return nil, false, err
		}
		rec, err = s.receipts.Fail(ctx, rec.ID, fmt.Sprintf("Unsupported file type: %s", ext))
		return rec, false, err
	}

	slot, err := s.store.Reserve(clientIP, ext)
	if err != nil {
		s.logger.Error("failed to reserve upload slot", "reference_name", f.Name, "error", err)
		return nil, false, fmt.Errorf("reserve upload: %w", err)
	}
	rec, err := s.receipts.Create(ctx, f.Name, s.imagesURL+slot.Rel)
	if err != nil {
		s.store.Discard(slot)
		return nil, false, err
	}

	data, err := readAll(f)
	if err != nil {
		s.store.Discard(slot)
		rec, err = s.receipts.Fail(ctx, rec.ID, fmt.Sprintf("Failed to read %s: %v", f.Name, err))
		return rec, false, err
	}
	if err := s.store.Write(slot, data); err != nil {
		s.logger.Warn("upload rejected", "receipt_id", rec.ID, "reference_name", f.Name, "error", err)
		s.store.Discard(slot)
		rec, err = s.receipts.Fail(ctx, rec.ID, fmt.Sprintf("Failed to upload %s: %v", f.Name, err))
		return rec, false, err
	}
	return rec, true, nil
}

// dispatch moves rec to WAITING and publishes it. The transition goes first so a
// fast reader can never select a receipt still in CREATED.
func (s *Service) dispatch(ctx context.Context, rec *entity.Receipt) (*entity.Receipt, error) {
	queued, err := s.receipts.Queue(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, s.route.Exchange, s.route.Key, queued); err != nil {
		s.logger.Error("failed to publish receipt", "receipt_id", rec.ID, "exchange", s.route.Exchange, "error", err)
		return s.receipts.Fail(ctx, rec.ID, fmt.Sprintf("Failed to publish '%s': %v", rec.ReferenceName, err))
	}
	return queued, nil
}

func readAll(f ingest.Upload) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
