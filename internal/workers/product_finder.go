package workers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
)

// ErrProductNotFound is returned by a ProductLookup that has no record for a barcode.
var ErrProductNotFound = errors.New("product not found")

// ProductLookup resolves a barcode against an external product catalogue.
type ProductLookup interface {
	FindProduct(ctx context.Context, code string) (*entity.ProductCreate, error)
}

// HTTPProductLookup queries <url>?code=<barcode> and expects a ProductCreate
// JSON body; 404 means unknown.
type HTTPProductLookup struct {
	client *retryhttp.Client
	url    string
}

func NewHTTPProductLookup(client *retryhttp.Client, lookupURL string) *HTTPProductLookup {
	return &HTTPProductLookup{client: client, url: lookupURL}
}

func (l *HTTPProductLookup) FindProduct(ctx context.Context, code string) (*entity.ProductCreate, error) {
	p, err := lookupJSON[entity.ProductCreate](ctx, l.client, l.url, "code", code, "product lookup")
	if errors.Is(err, errLookupNotFound) {
		return nil, ErrProductNotFound
	}
	return p, err
}

// ProductFinder resolves unseen barcodes and posts them to the product codes endpoint.
type ProductFinder struct {
	gate     crawlGate
	lookup   ProductLookup
	api      *retryhttp.Client
	endpoint string
	logger   *slog.Logger
}

func NewProductFinder(admission Admitter, pacer Pacer, lookup ProductLookup, api *retryhttp.Client, productCodesEndpoint string, logger *slog.Logger) *ProductFinder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductFinder{
		gate:     crawlGate{admission: admission, pacer: pacer},
		lookup:   lookup,
		api:      api,
		endpoint: productCodesEndpoint,
		logger:   logger,
	}
}

// Handle processes one barcode. Codes the catalogue does not know, and codes
// another node stored first, are acknowledged without retry.
func (f *ProductFinder) Handle(ctx context.Context, msg entity.ProductCode) error {
	code := strings.TrimSpace(msg.Code)
	log := f.logger.With("code", code, "format", msg.Format)
	if code == "" {
		log.Info("product_finder.empty_code")
		return nil
	}

	uses, err := f.gate.wait(ctx)
	if err != nil {
		return err
	}
	log.Debug("product_finder.crawl", "uses_today", uses)

	p, err := f.lookup.FindProduct(ctx, code)
	if errors.Is(err, ErrProductNotFound) {
		log.Info("product_finder.not_found")
		return nil
	}
	if err != nil {
		return err
	}

	resp, err := f.api.PostJSON(ctx, f.endpoint, entity.ProductCodeCreate{Code: code, Format: msg.Format, Product: *p})
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusConflict:
		log.Info("product_finder.already_known")
		return nil
	case !resp.OK():
		return statusError("store product code", resp)
	}
	log.Info("product_finder.stored", "title", p.Title)
	return nil
}
