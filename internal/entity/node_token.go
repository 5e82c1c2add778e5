package entity

import "time"

// NodeToken identifies a worker node calling back into the API.
// Only the SHA-256 hex digest of the bearer secret is stored.
type NodeToken struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	KeyHash              string    `json:"-"`
	CrawlDailyLimit      int       `json:"crawl_daily_limit"`
	CanViewReceiptImages bool      `json:"can_view_receipt_images"`
	CreatedAt            time.Time `json:"created_at"`
}

// CrawlAuthorization is the answer to a successful crawl admission request.
type CrawlAuthorization struct {
	Status    string `json:"status"`
	UsesToday int    `json:"uses_today"`
}
