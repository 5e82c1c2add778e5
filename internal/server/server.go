// Package server exposes the receipts API over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/crawl"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/realtime"
	"github.com/joseph-ayodele/receipts-pipeline/internal/receipts"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	ingestsvc "github.com/joseph-ayodele/receipts-pipeline/internal/services/ingest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/merchant"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/product"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/purchase"
)

const (
	maxJSONBody     = 1 << 20
	maxUploadBody   = 100 << 20
	maxUploadMemory = 32 << 20
)

// Deps are the services the HTTP layer delegates to.
type Deps struct {
	Receipts    *receipts.Service
	Uploads     *ingestsvc.Service
	Purchases   *purchase.Service
	Merchants   *merchant.Service
	Products    *product.Service
	Tokens      repository.NodeTokenRepository
	Crawl       *crawl.Controller
	Export      *export.Service
	Store       *ingest.FSStore
	Registry    *realtime.Registry
	CORSOrigins []string
}

type Server struct {
	receipts    *receipts.Service
	uploads     *ingestsvc.Service
	purchases   *purchase.Service
	merchants   *merchant.Service
	products    *product.Service
	tokens      repository.NodeTokenRepository
	crawl       *crawl.Controller
	export      *export.Service
	store       *ingest.FSStore
	registry    *realtime.Registry
	corsOrigins []string
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		receipts:    d.Receipts,
		uploads:     d.Uploads,
		purchases:   d.Purchases,
		merchants:   d.Merchants,
		products:    d.Products,
		tokens:      d.Tokens,
		crawl:       d.Crawl,
		export:      d.Export,
		store:       d.Store,
		registry:    d.Registry,
		corsOrigins: d.CORSOrigins,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Handler returns the routed API with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /receipts/{id}", s.getReceipt)
	mux.HandleFunc("POST /receipts/{id}/select", s.transition("select", s.receipts.Select))
	mux.HandleFunc("POST /receipts/{id}/cancel", s.transition("cancel", s.receipts.Cancel))
	mux.HandleFunc("POST /receipts/{id}/fail", s.failReceipt)
	mux.HandleFunc("GET /receipts/{id}/status_changes", s.statusChanges)
	mux.HandleFunc("GET /receipts/{id}/status_ws", s.statusWS)
	mux.Handle("GET /receipts/images/{year}/{month}/{dir}/{file}", s.requireToken(http.HandlerFunc(s.serveImage)))
	mux.HandleFunc("GET /receipts/export.xlsx", s.exportReceipts)

	mux.HandleFunc("POST /upload/{$}", s.upload)
	mux.HandleFunc("POST /purchases/{$}", s.createPurchase)
	mux.HandleFunc("GET /purchases/{id}", s.getPurchase)
	mux.HandleFunc("POST /entities/{$}", s.upsertEntity)
	mux.HandleFunc("POST /product_codes/{$}", s.createProductCode)
	mux.Handle("POST /node_tokens/authorize_crawl", s.requireToken(http.HandlerFunc(s.authorizeCrawl)))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s.withRequestID(s.withLogging(s.withCORS(mux)))
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps err onto a status code. Server errors are logged and their
// details withheld from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "req_id", common.RequestIDFromContext(r.Context()),
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeDetail(w, status, "Internal server error")
		return
	}
	writeDetail(w, status, common.Detail(err))
}

// pathID parses the {id} wildcard, answering 400 itself when it is not an integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
