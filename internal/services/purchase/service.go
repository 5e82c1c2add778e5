package purchase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/messaging"
	"github.com/joseph-ayodele/receipts-pipeline/internal/receipts"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// Publisher sends a JSON payload to an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, payload any) error
}

// Routes are the exchanges a new purchase fans out to.
type Routes struct {
	Merchant    messaging.Route
	ProductCode messaging.Route
	Purchase    messaging.Route
}

// Service handles purchase business logic.
type Service struct {
	purchaseRepo repository.PurchaseRepository
	merchantRepo repository.MerchantRepository
	productRepo  repository.ProductRepository
	tx           repository.TxRunner
	receipts     *receipts.Service
	publisher    Publisher
	routes       Routes
	now          func() time.Time
	logger       *slog.Logger
}

// NewService creates a new purchase service.
func NewService(
	purchaseRepo repository.PurchaseRepository,
	merchantRepo repository.MerchantRepository,
	productRepo repository.ProductRepository,
	tx repository.TxRunner,
	rs *receipts.Service,
	pub Publisher,
	routes Routes,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		purchaseRepo: purchaseRepo,
		merchantRepo: merchantRepo,
		productRepo:  productRepo,
		tx:           tx,
		receipts:     rs,
		publisher:    pub,
		routes:       routes,
		now:          time.Now,
		logger:       logger,
	}
}

// Get returns a stored purchase.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Purchase, error) {
	return s.purchaseRepo.GetByID(ctx, id)
}

// Create stores a purchase read from a receipt and publishes the follow-up
// lookups. When receiptID is set the purchase insert and the receipt's
// transition to COMPLETED commit together; nothing is published unless both do.
func (s *Service) Create(ctx context.Context, receiptID *int64, in *entity.PurchaseCreate) (*entity.Purchase, error) {
	if receiptID != nil {
		if _, err := s.receipts.CheckComplete(ctx, *receiptID); err != nil {
			return nil, completeError(err)
		}
	}

	validator := common.NewValidator()
	validator.Field("total", in.Total, common.NonNegative)
	validator.Field("subtotal", in.Subtotal, common.NonNegative)
	validator.Field("discount", in.Discount, common.NonNegative)
	validator.Field("tips", in.Tips, common.NonNegative)
	validator.Field("read_entity_name", in.ReadEntityName, common.MaxLength(200))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	items := make([]entity.PurchaseItem, 0, len(in.Items))
	for _, it := range in.Items {
		if !it.Empty() {
			it.ProductID = nil
			items = append(items, it)
		}
	}
	total, ok := Total(in, items)
	if !ok {
		return nil, common.InvalidArgumentError("The purchase's total could not be calculated.")
	}
	date := s.now().UTC()
	if in.Date != nil {
		date = *in.Date
	}

	p := &entity.Purchase{
		ReadEntityName:           in.ReadEntityName,
		ReadEntityBranch:         in.ReadEntityBranch,
		ReadEntityLocation:       in.ReadEntityLocation,
		ReadEntityAddress:        in.ReadEntityAddress,
		ReadEntityIdentification: in.ReadEntityIdentification,
		ReadEntityPhone:          in.ReadEntityPhone,
		Date:                     date,
		Subtotal:                 in.Subtotal,
		Discount:                 in.Discount,
		Tips:                     in.Tips,
		Total:                    total,
		Items:                    items,
	}
	merchantID, merchantReq := s.resolveMerchant(ctx, in)
	p.MerchantID = merchantID
	unknown := s.resolveProducts(ctx, items)

	var created *entity.Purchase
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if created, err = s.purchaseRepo.Create(ctx, p); err != nil {
			return err
		}
		if receiptID == nil {
			return nil
		}
		if _, err := s.receipts.Complete(ctx, *receiptID, created.ID); err != nil {
			s.logger.Error("failed to complete receipt", "receipt_id", *receiptID, "purchase_id", created.ID, "error", err)
			return completeError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("purchase created", "purchase_id", created.ID, "items", len(items), "total", total)

	if merchantReq != nil {
		s.publish(ctx, s.routes.Merchant, merchantReq, "purchase_id", created.ID, "identification", merchantReq.Identification)
	}
	for _, code := range unknown {
		s.publish(ctx, s.routes.ProductCode, code, "purchase_id", created.ID, "code", code.Code)
	}
	s.publish(ctx, s.routes.Purchase, created, "purchase_id", created.ID)
	return created, nil
}

// resolveMerchant links a known merchant. For an unknown identification it
// returns the request to send to the entity finder.
func (s *Service) resolveMerchant(ctx context.Context, in *entity.PurchaseCreate) (*int64, *entity.MerchantRequest) {
	if in.ReadEntityIdentification == nil {
		return nil, nil
	}
	ident := entity.NormalizeIdentification(*in.ReadEntityIdentification)
	if ident == "" {
		return nil, nil
	}
	m, err := s.merchantRepo.GetByIdentification(ctx, ident)
	switch {
	case err == nil:
		return &m.ID, nil
	case errors.Is(err, common.ErrNotFound):
		name := ""
		if in.ReadEntityName != nil {
			name = *in.ReadEntityName
		}
		return nil, &entity.MerchantRequest{Name: name, Identification: ident}
	default:
		s.logger.Warn("merchant lookup failed", "identification", ident, "error", err)
	}
	return nil, nil
}

// resolveProducts links items whose barcode is already stored and returns the
// distinct barcodes the product finder still has to look up.
func (s *Service) resolveProducts(ctx context.Context, items []entity.PurchaseItem) []*entity.ProductCode {
	var unknown []*entity.ProductCode
	seen := map[string]bool{}
	for i := range items {
		if items[i].ReadProductKey == nil {
			continue
		}
		code := entity.DetectProductCode(*items[i].ReadProductKey)
		if code == nil {
			continue
		}
		pc, err := s.productRepo.FindCode(ctx, code.Code, code.Format)
		switch {
		case err == nil:
			items[i].ProductID = &pc.ProductID
		case errors.Is(err, common.ErrNotFound):
			if !seen[code.Code] {
				seen[code.Code] = true
				unknown = append(unknown, code)
			}
		default:
			s.logger.Warn("product code lookup failed", "code", code.Code, "error", err)
		}
	}
	return unknown
}

// publish logs and drops failures; the purchase is already committed.
func (s *Service) publish(ctx context.Context, r messaging.Route, payload any, attrs ...any) {
	if err := s.publisher.Publish(ctx, r.Exchange, r.Key, payload); err != nil {
		s.logger.Error("failed to publish", append([]any{"exchange", r.Exchange, "error", err}, attrs...)...)
	}
}

// completeError turns an illegal transition into a conflict. The transition
// stays the cause so callers can still describe it.
func completeError(err error) error {
	if receipts.IsIllegal(err) {
		return common.NewAppError("CONFLICT", "Cannot complete receipt", err)
	}
	return err
}

// Total returns the purchase total: the given total, else subtotal minus
// discount plus tips, else the sum of item totals (value times quantity when an
// item has no total). ok is false when none of those is available.
func Total(in *entity.PurchaseCreate, items []entity.PurchaseItem) (float64, bool) {
	if in.Total != nil {
		return *in.Total, true
	}
	if in.Subtotal != nil {
		t := *in.Subtotal
		if in.Discount != nil {
			t -= *in.Discount
		}
		if in.Tips != nil {
			t += *in.Tips
		}
		return t, true
	}
	var (
		sum   float64
		found bool
	)
	for _, it := range items {
		switch {
		case it.Total != nil:
			sum += *it.Total
			found = true
		case it.Value != nil:
			q := 1.0
			if it.Quantity != nil {
				q = *it.Quantity
			}
			sum += *it.Value * q
			found = true
		}
	}
	return sum, found
}
