package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// ExtractRequest identifies one receipt image to read.
type ExtractRequest struct {
	ReceiptID     int64
	ReferenceName string
	// ImageDataURL is the image inlined as a data: URL; the upload store is
	// not reachable by the model provider.
	ImageDataURL string
}

// ReadItem is one purchase line as the model reads it.
type ReadItem struct {
	Code      string `json:"code,omitempty"`
	Text      string `json:"text,omitempty"`
	Quantity  string `json:"quantity,omitempty"`   // decimal
	UnitPrice string `json:"unit_price,omitempty"` // decimal
	Total     string `json:"total,omitempty"`      // decimal
}

// ReadPurchase is the normalized shape we want from the model.
type ReadPurchase struct {
	EntityName           string     `json:"entity_name"`
	EntityBranch         string     `json:"entity_branch,omitempty"`
	EntityAddress        string     `json:"entity_address,omitempty"`
	EntityLocation       string     `json:"entity_location,omitempty"`
	EntityIdentification string     `json:"entity_identification,omitempty"`
	EntityPhone          string     `json:"entity_phone,omitempty"`
	Date                 string     `json:"date"`               // YYYY-MM-DD
	Subtotal             string     `json:"subtotal,omitempty"` // decimal
	Discount             string     `json:"discount,omitempty"` // decimal, positive magnitude
	Tips                 string     `json:"tips,omitempty"`     // decimal
	Total                string     `json:"total,omitempty"`    // decimal
	Items                []ReadItem `json:"items"`
}

// Extractor reads a receipt image into a purchase body for the purchases endpoint.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*entity.PurchaseCreate, []byte /*rawJSON*/, error)
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optDecimal(field, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &f, nil
}

// ToPurchaseCreate converts the model output into the API's purchase body.
func (r ReadPurchase) ToPurchaseCreate() (*entity.PurchaseCreate, error) {
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(r.Date))
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	out := &entity.PurchaseCreate{
		ReadEntityName:           optString(r.EntityName),
		ReadEntityBranch:         optString(r.EntityBranch),
		ReadEntityLocation:       optString(r.EntityLocation),
		ReadEntityAddress:        optString(r.EntityAddress),
		ReadEntityIdentification: optString(r.EntityIdentification),
		ReadEntityPhone:          optString(r.EntityPhone),
		Date:                     &date,
		Items:                    make([]entity.PurchaseItem, 0, len(r.Items)),
	}
	if out.Subtotal, err = optDecimal("subtotal", r.Subtotal); err != nil {
		return nil, err
	}
	if out.Discount, err = optDecimal("discount", r.Discount); err != nil {
		return nil, err
	}
	if out.Tips, err = optDecimal("tips", r.Tips); err != nil {
		return nil, err
	}
	if out.Total, err = optDecimal("total", r.Total); err != nil {
		return nil, err
	}
	for i, it := range r.Items {
		item := entity.PurchaseItem{
			ReadProductKey:  optString(it.Code),
			ReadProductText: optString(it.Text),
		}
		if item.Quantity, err = optDecimal(fmt.Sprintf("items[%d].quantity", i), it.Quantity); err != nil {
			return nil, err
		}
		if item.Value, err = optDecimal(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice); err != nil {
			return nil, err
		}
		if item.Total, err = optDecimal(fmt.Sprintf("items[%d].total", i), it.Total); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}
