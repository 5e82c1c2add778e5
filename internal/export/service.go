package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

const (
	receiptsSheet = "Receipts"
	summarySheet  = "Summary"
)

// Service is a tiny façade over the receipts repository that produces XLSX bytes.
type Service struct {
	receiptsRepo repository.ReceiptRepository
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(repo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receiptsRepo: repo, logger: logger, now: time.Now}
}

// ExportReceiptsXLSX returns a status report workbook (as bytes) for receipts
// created in the date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all receipts.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := s.now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}

	recs, err := s.receiptsRepo.ListReceipts(ctx, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_error", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", receiptsSheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Receipt ID",
		"Reference",
		"Status",
		"Purchase ID",
		"Error",
		"Image URL",
		"Created",
		"Updated",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(receiptsSheet, cell, h)
	}

	counts := make(map[constants.ReceiptStatus]int, len(constants.ReceiptStatuses))
	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(receiptsSheet, cell, v)
		}

		write(1, r.ID)
		write(2, r.ReferenceName)
		write(3, r.Status.String())
		if r.PurchaseID != nil {
			write(4, *r.PurchaseID)
		}
		if r.ErrorMessage != nil {
			write(5, truncate(*r.ErrorMessage, 140))
		}
		write(6, r.ImageURL)
		write(7, r.CreatedAt.UTC().Format(time.RFC3339))
		write(8, r.UpdatedAt.UTC().Format(time.RFC3339))

		counts[r.Status]++
		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(receiptsSheet, "A", "A", 12) // id
	_ = f.SetColWidth(receiptsSheet, "B", "B", 28) // reference
	_ = f.SetColWidth(receiptsSheet, "C", "D", 14) // status, purchase
	_ = f.SetColWidth(receiptsSheet, "E", "E", 48) // error
	_ = f.SetColWidth(receiptsSheet, "F", "F", 60) // image
	_ = f.SetColWidth(receiptsSheet, "G", "H", 22) // timestamps

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	_ = f.SetCellValue(summarySheet, "A1", "Status")
	_ = f.SetCellValue(summarySheet, "B1", "Receipts")
	for i, st := range constants.ReceiptStatuses {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+2), st.String())
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+2), counts[st])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
