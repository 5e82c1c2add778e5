package merchant

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// Service handles merchant business logic.
type Service struct {
	merchantRepo repository.MerchantRepository
	purchaseRepo repository.PurchaseRepository
	logger       *slog.Logger
}

// NewService creates a new merchant service.
func NewService(merchantRepo repository.MerchantRepository, purchaseRepo repository.PurchaseRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		merchantRepo: merchantRepo,
		purchaseRepo: purchaseRepo,
		logger:       logger,
	}
}

// Upsert stores a merchant by identification and links the purchases that were
// read with that identification before it was known.
func (s *Service) Upsert(ctx context.Context, req entity.MerchantCreate) (*entity.Merchant, error) {
	validator := common.NewValidator()
	validator.Field("name", req.Name, common.Required, common.MaxLength(200))
	validator.Field("identification", req.Identification, common.Required)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	ident := entity.NormalizeIdentification(req.Identification)
	if ident == "" {
		return nil, common.InvalidArgumentErrorf("identification %q has no digits", req.Identification)
	}

	m, err := s.merchantRepo.Upsert(ctx, &entity.Merchant{
		Name:           strings.TrimSpace(req.Name),
		Identification: ident,
		Address:        req.Address,
		Location:       req.Location,
		Phone:          req.Phone,
	})
	if err != nil {
		return nil, err
	}

	linked, err := s.purchaseRepo.LinkMerchant(ctx, m.ID, ident)
	if err != nil {
		// DB error already logged in repository layer
		return nil, err
	}
	s.logger.Info("merchant stored", "merchant_id", m.ID, "identification", ident, "linked_purchases", linked)
	return m, nil
}
