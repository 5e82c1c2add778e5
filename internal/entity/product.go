package entity

import "time"

// Product is what a barcode resolves to.
type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	ImageURL    *string   `json:"img_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProductCreate is the product half of a ProductCodeCreate.
type ProductCreate struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	ImageURLs   []string `json:"img_urls,omitempty"`
}

// ProductCodeCreate is the body accepted by the product codes endpoint.
type ProductCodeCreate struct {
	Code    string        `json:"code"`
	Format  string        `json:"format"`
	Product ProductCreate `json:"product"`
}

// StoredProductCode is a barcode linked to its product.
type StoredProductCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Format    string    `json:"format"`
	ProductID int64     `json:"product_id"`
	Product   *Product  `json:"product,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
