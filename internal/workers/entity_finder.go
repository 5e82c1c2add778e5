package workers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
)

// ErrEntityNotFound is returned by a Lookup that has no record for an identification.
var ErrEntityNotFound = errors.New("entity not found")

// Lookup resolves a merchant identification against an external registry.
type Lookup interface {
	Find(ctx context.Context, identification string) (*entity.MerchantCreate, error)
}

// HTTPLookup queries <url>?identification=<digits> and expects a
// MerchantCreate JSON body; 404 means unknown.
type HTTPLookup struct {
	client *retryhttp.Client
	url    string
}

func NewHTTPLookup(client *retryhttp.Client, lookupURL string) *HTTPLookup {
	return &HTTPLookup{client: client, url: lookupURL}
}

func (l *HTTPLookup) Find(ctx context.Context, identification string) (*entity.MerchantCreate, error) {
	m, err := lookupJSON[entity.MerchantCreate](ctx, l.client, l.url, "identification", identification, "entity lookup")
	if errors.Is(err, errLookupNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.Identification == "" {
		m.Identification = identification
	}
	return m, nil
}

var errLookupNotFound = errors.New("lookup: not found")

// lookupJSON queries <base>?<param>=<value> and decodes the reply into T.
// A 404 yields errLookupNotFound.
func lookupJSON[T any](ctx context.Context, client *retryhttp.Client, base, param, value, op string) (*T, error) {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	resp, err := client.Get(ctx, base+sep+param+"="+url.QueryEscape(value))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errLookupNotFound
	case !resp.OK():
		return nil, statusError(op, resp)
	}
	var out T
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Admitter blocks until the API grants a crawl.
type Admitter interface {
	Wait(ctx context.Context) (int, error)
}

// Pacer spaces crawl actions.
type Pacer interface {
	Wait(ctx context.Context) error
}

// crawlGate spends one API admission and then waits out the pacer. Every
// external crawl goes through it.
type crawlGate struct {
	admission Admitter
	pacer     Pacer
}

func (g crawlGate) wait(ctx context.Context) (int, error) {
	uses, err := g.admission.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := g.pacer.Wait(ctx); err != nil {
		return 0, err
	}
	return uses, nil
}

// EntityFinder resolves unknown merchants and posts them to the entities endpoint.
type EntityFinder struct {
	gate     crawlGate
	lookup   Lookup
	api      *retryhttp.Client
	endpoint string
	logger   *slog.Logger
}

func NewEntityFinder(admission Admitter, pacer Pacer, lookup Lookup, api *retryhttp.Client, entitiesEndpoint string, logger *slog.Logger) *EntityFinder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityFinder{
		gate:     crawlGate{admission: admission, pacer: pacer},
		lookup:   lookup,
		api:      api,
		endpoint: entitiesEndpoint,
		logger:   logger,
	}
}

// Handle processes one merchant request.
func (f *EntityFinder) Handle(ctx context.Context, req entity.MerchantRequest) error {
	log := f.logger.With("identification", req.Identification)

	uses, err := f.gate.wait(ctx)
	if err != nil {
		return err
	}
	log.Debug("entity_finder.crawl", "uses_today", uses)

	m, err := f.lookup.Find(ctx, req.Identification)
	if errors.Is(err, ErrEntityNotFound) {
		log.Info("entity_finder.not_found")
		return nil
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = req.Name
	}

	resp, err := f.api.PostJSON(ctx, f.endpoint, m)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError("store entity", resp)
	}
	log.Info("entity_finder.stored", "name", m.Name)
	return nil
}
