package product

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// Service handles product code business logic.
type Service struct {
	productRepo  repository.ProductRepository
	purchaseRepo repository.PurchaseRepository
	tx           repository.TxRunner
	logger       *slog.Logger
}

// NewService creates a new product service.
func NewService(productRepo repository.ProductRepository, purchaseRepo repository.PurchaseRepository, tx repository.TxRunner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		productRepo:  productRepo,
		purchaseRepo: purchaseRepo,
		tx:           tx,
		logger:       logger,
	}
}

// Create stores a barcode with its product and links the purchase items that
// were read with that barcode before it was known. The format is derived from
// the code; a conflicting format in the request is rejected.
func (s *Service) Create(ctx context.Context, req entity.ProductCodeCreate) (*entity.StoredProductCode, error) {
	req.Product.Title = strings.TrimSpace(req.Product.Title)
	validator := common.NewValidator()
	validator.Field("product.title", req.Product.Title, common.Required, common.MaxLength(300))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	code := entity.DetectProductCode(strings.TrimSpace(req.Code))
	if code == nil {
		return nil, common.InvalidArgumentError("Could not form product code.")
	}
	if req.Format != "" && req.Format != code.Format {
		return nil, common.InvalidArgumentErrorf("Code %s is %s, not %s.", code.Code, code.Format, req.Format)
	}
	req.Code, req.Format = code.Code, code.Format

	var (
		out    *entity.StoredProductCode
		linked int
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		pc, err := s.productRepo.Create(ctx, &req)
		if err != nil {
			return err
		}
		if linked, err = s.purchaseRepo.LinkProduct(ctx, pc.Code, pc.ProductID); err != nil {
			return err
		}
		out = pc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("product code stored", "code", out.Code, "format", out.Format, "product_id", out.ProductID, "linked_purchases", linked)
	return out, nil
}
