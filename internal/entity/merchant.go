package entity

import "time"

// Merchant is a business identified by its tax identification number.
type Merchant struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Identification string    `json:"identification"`
	Address        *string   `json:"address,omitempty"`
	Location       *string   `json:"location,omitempty"`
	Phone          *string   `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MerchantCreate is the body accepted by the entities endpoint.
type MerchantCreate struct {
	Name           string  `json:"name"`
	Identification string  `json:"identification"`
	Address        *string `json:"address,omitempty"`
	Location       *string `json:"location,omitempty"`
	Phone          *string `json:"phone,omitempty"`
}

// NormalizeIdentification keeps only the digits of a tax id, so "30-71234567-1"
// and "30712345671" compare equal.
func NormalizeIdentification(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b = append(b, s[i])
		}
	}
	return string(b)
}
