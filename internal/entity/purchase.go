package entity

import "time"

// PurchaseItem is one line of a purchase as read from the receipt.
type PurchaseItem struct {
	ReadProductKey  *string  `json:"read_product_key,omitempty"`
	ReadProductText *string  `json:"read_product_text,omitempty"`
	Quantity        *float64 `json:"quantity,omitempty"`
	Value           *float64 `json:"value,omitempty"`
	Total           *float64 `json:"total,omitempty"`
	ProductID       *int64   `json:"product_id,omitempty"`
}

// Empty reports whether the item carries no data at all.
func (i PurchaseItem) Empty() bool {
	return i.ReadProductKey == nil && i.ReadProductText == nil &&
		i.Quantity == nil && i.Value == nil && i.Total == nil
}

// PurchaseCreate is the body accepted by the purchases endpoint.
type PurchaseCreate struct {
	ReadEntityName           *string        `json:"read_entity_name,omitempty"`
	ReadEntityBranch         *string        `json:"read_entity_branch,omitempty"`
	ReadEntityLocation       *string        `json:"read_entity_location,omitempty"`
	ReadEntityAddress        *string        `json:"read_entity_address,omitempty"`
	ReadEntityIdentification *string        `json:"read_entity_identification,omitempty"`
	ReadEntityPhone          *string        `json:"read_entity_phone,omitempty"`
	Date                     *time.Time     `json:"date,omitempty"`
	Subtotal                 *float64       `json:"subtotal,omitempty"`
	Discount                 *float64       `json:"discount,omitempty"`
	Tips                     *float64       `json:"tips,omitempty"`
	Total                    *float64       `json:"total,omitempty"`
	Items                    []PurchaseItem `json:"items"`
}

// Purchase is a stored purchase. It is also the payload sent for demand prediction.
type Purchase struct {
	ID                       int64          `json:"id"`
	ReadEntityName           *string        `json:"read_entity_name,omitempty"`
	ReadEntityBranch         *string        `json:"read_entity_branch,omitempty"`
	ReadEntityLocation       *string        `json:"read_entity_location,omitempty"`
	ReadEntityAddress        *string        `json:"read_entity_address,omitempty"`
	ReadEntityIdentification *string        `json:"read_entity_identification,omitempty"`
	ReadEntityPhone          *string        `json:"read_entity_phone,omitempty"`
	Date                     time.Time      `json:"date"`
	Subtotal                 *float64       `json:"subtotal,omitempty"`
	Discount                 *float64       `json:"discount,omitempty"`
	Tips                     *float64       `json:"tips,omitempty"`
	Total                    float64        `json:"total"`
	MerchantID               *int64         `json:"merchant_id,omitempty"`
	Items                    []PurchaseItem `json:"items"`
	CreatedAt                time.Time      `json:"created_at"`
}
