package server

import (
	"net/http"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/utils"
)

func (s *Server) createPurchase(w http.ResponseWriter, r *http.Request) {
	receiptID, err := utils.ParseOptionalID(r.URL.Query().Get("receipt_id"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "receipt_id must be a positive integer")
		return
	}
	var req entity.PurchaseCreate
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.purchases.Create(r.Context(), receiptID, &req)
	if err != nil {
		s.writeTransition(w, r, "complete", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.purchases.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) upsertEntity(w http.ResponseWriter, r *http.Request) {
	var req entity.MerchantCreate
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := s.merchants.Upsert(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) createProductCode(w http.ResponseWriter, r *http.Request) {
	var req entity.ProductCodeCreate
	if !decodeJSON(w, r, &req) {
		return
	}
	pc, err := s.products.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

// authorizeCrawl spends one of the calling token's daily crawls.
func (s *Server) authorizeCrawl(w http.ResponseWriter, r *http.Request) {
	tok := common.NodeTokenFromContext(r.Context())
	uses, err := s.crawl.Authorize(r.Context(), tok)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entity.CrawlAuthorization{Status: "Authorized", UsesToday: uses})
}
