package messaging

import "github.com/joseph-ayodele/receipts-pipeline/internal/common"

// Schemas for the payloads exchanged between the API and the worker nodes.
var (
	ReceiptSchema = common.MustCompileSchema("receipt", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":             map[string]any{"type": "integer", "minimum": 1},
			"status":         map[string]any{"type": "string"},
			"reference_name": map[string]any{"type": "string"},
			"image_url":      map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"id", "image_url"},
	})

	MerchantRequestSchema = common.MustCompileSchema("merchant_request", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":           map[string]any{"type": "string"},
			"identification": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"identification"},
	})

	ProductCodeSchema = common.MustCompileSchema("product_code", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":   map[string]any{"type": "string", "pattern": `^\d{8,14}$`},
			"format": map[string]any{"type": "string"},
		},
		"required": []string{"code"},
	})

	PurchaseSchema = common.MustCompileSchema("purchase", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":    map[string]any{"type": "integer"},
			"date":  map[string]any{"type": "string"},
			"total": map[string]any{"type": "number"},
			"items": map[string]any{"type": "array"},
		},
		"required": []string{"id", "date", "total"},
	})
)
