package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

var (
	purchaseKeys = map[string]struct{}{
		"entity_name": {}, "entity_branch": {}, "entity_address": {}, "entity_location": {},
		"entity_identification": {}, "entity_phone": {}, "date": {},
		"subtotal": {}, "discount": {}, "tips": {}, "total": {}, "items": {},
	}
	itemKeys    = map[string]struct{}{"code": {}, "text": {}, "quantity": {}, "unit_price": {}, "total": {}}
	moneyFields = []string{"subtotal", "discount", "tips", "total"}
	itemNumbers = []string{"quantity", "unit_price", "total"}
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (tip -> tips, price -> unit_price)
// - Drops null/empty optionals
// - Coerces numbers to decimal strings
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	rename(m, "tip", "tips", &dropped)
	rename(m, "establishment", "entity_name", &dropped)
	rename(m, "merchant_name", "entity_name", &dropped)
	rename(m, "tax_id", "entity_identification", &dropped)
	for _, k := range moneyFields {
		coerceDecimal(m, k, "", &dropped)
	}
	trimStrings(m, "", &dropped)

	if id, ok := m["entity_identification"].(string); ok {
		digits := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '-' {
				return r
			}
			return -1
		}, id)
		if digits == "" {
			delete(m, "entity_identification")
			dropped = append(dropped, "entity_identification(invalid)")
		} else {
			m["entity_identification"] = digits
		}
	}

	items, _ := m["items"].([]any)
	cleaned := make([]any, 0, len(items))
	for i, raw := range items {
		it, ok := raw.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("items[%d](type)", i))
			continue
		}
		prefix := fmt.Sprintf("items[%d].", i)
		rename(it, "price", "unit_price", &dropped)
		rename(it, "description", "text", &dropped)
		for _, k := range itemNumbers {
			coerceDecimal(it, k, prefix, &dropped)
		}
		trimStrings(it, prefix, &dropped)
		dropUnknown(it, itemKeys, prefix, &dropped)
		if len(it) == 0 {
			dropped = append(dropped, prefix+"(empty)")
			continue
		}
		cleaned = append(cleaned, it)
	}
	m["items"] = cleaned
	dropUnknown(m, purchaseKeys, "", &dropped)

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func rename(m map[string]any, from, to string, dropped *[]string) {
	v, ok := m[from]
	if !ok {
		return
	}
	// don't overwrite existing value if already present
	if _, exists := m[to]; !exists {
		m[to] = v
	}
	delete(m, from)
	*dropped = append(*dropped, from+"->"+to)
}

func coerceDecimal(m map[string]any, k, prefix string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
		m[k] = strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		s = strings.TrimPrefix(s, "$")
		if s == "" || strings.EqualFold(s, "null") {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(empty)")
			return
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(unparsable)")
			return
		}
		m[k] = strconv.FormatFloat(f, 'f', -1, 64)
	case nil:
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(null)")
	default:
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(type)")
	}
}

func trimStrings(m map[string]any, prefix string, dropped *[]string) {
	for k, v := range maps.Clone(m) {
		switch t := v.(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				delete(m, k)
				*dropped = append(*dropped, prefix+k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(null)")
		}
	}
}

func dropUnknown(m map[string]any, allowed map[string]struct{}, prefix string, dropped *[]string) {
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(unknown)")
		}
	}
}
