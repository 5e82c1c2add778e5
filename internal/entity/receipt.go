package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// Receipt represents an uploaded receipt image and its lifecycle status.
// It is also the payload published to the image reader queue.
type Receipt struct {
	ID            int64                   `json:"id"`
	Status        constants.ReceiptStatus `json:"status"`
	ReferenceName string                  `json:"reference_name"`
	ImageURL      string                  `json:"image_url"`
	PurchaseID    *int64                  `json:"purchase_id,omitempty"`
	ErrorMessage  *string                 `json:"error_message,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}
