package llm

import "github.com/joseph-ayodele/receipts-pipeline/internal/common"

// PurchaseReadSchema validates sanitized model output before conversion.
var PurchaseReadSchema = common.MustCompileSchema("purchase_read", BuildPurchaseJSONSchema())

// BuildPurchaseJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the output contract and used locally to validate.
func BuildPurchaseJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"code":       map[string]any{"type": "string"},
			"text":       map[string]any{"type": "string"},
			"quantity":   decimalProp(),
			"unit_price": decimalProp(),
			"total":      decimalProp(),
		},
	}
	props := map[string]any{
		"entity_name":           map[string]any{"type": "string", "minLength": 1},
		"entity_branch":         map[string]any{"type": "string"},
		"entity_address":        map[string]any{"type": "string"},
		"entity_location":       map[string]any{"type": "string"},
		"entity_identification": map[string]any{"type": "string", "pattern": `^[0-9-]+$`},
		"entity_phone":          map[string]any{"type": "string"},
		"date":                  map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"subtotal":              decimalProp(),
		"discount":              decimalProp(),
		"tips":                  decimalProp(),
		"total":                 decimalProp(),
		"items":                 map[string]any{"type": "array", "items": item},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"entity_name", "date", "items"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,3})?$`,
	}
}
