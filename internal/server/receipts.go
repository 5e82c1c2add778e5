package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/receipts"
	"github.com/joseph-ayodele/receipts-pipeline/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.receipts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// transition runs one lifecycle trigger; an illegal one answers 409
// "Cannot <verb> receipt: ...".
func (s *Server) transition(verb string, fire func(context.Context, int64) (*entity.Receipt, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		rec, err := fire(r.Context(), id)
		s.writeTransition(w, r, verb, rec, err)
	}
}

type failRequest struct {
	ErrorMessage string `json:"error_message"`
}

// failReceipt accepts an optional {"error_message": "..."} body.
func (s *Server) failReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req failRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	rec, err := s.receipts.Fail(r.Context(), id, req.ErrorMessage)
	s.writeTransition(w, r, "fail", rec, err)
}

func (s *Server) writeTransition(w http.ResponseWriter, r *http.Request, verb string, rec *entity.Receipt, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	var illegal *receipts.IllegalTransitionError
	if errors.As(err, &illegal) {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Cannot %s receipt: %v", verb, illegal))
		return
	}
	s.writeError(w, r, err)
}

// exportReceipts answers an XLSX status report for ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (s *Server) exportReceipts(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	for name, dst := range map[string]**time.Time{"from": &from, "to": &to} {
		v := strings.TrimSpace(r.URL.Query().Get(name))
		if v == "" {
			continue
		}
		t, err := utils.ParseYMD(v)
		if err != nil {
			s.writeError(w, r, common.InvalidArgumentErrorf("%s invalid (YYYY-MM-DD): %v", name, err))
			return
		}
		*dst = &t
	}

	data, err := s.export.ExportReceiptsXLSX(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="receipts-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
