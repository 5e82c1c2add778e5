package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
)

// upload accepts multipart "files" and answers the created receipts.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "Upload too large.")
			return
		}
		writeDetail(w, http.StatusBadRequest, "No files uploaded.")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeDetail(w, http.StatusBadRequest, "No files uploaded.")
		return
	}
	files := make([]ingest.Upload, 0, len(headers))
	for _, fh := range headers {
		files = append(files, ingest.Upload{Name: fh.Filename, Open: opener(fh)})
	}

	recs, err := s.uploads.Upload(r.Context(), ingest.ClientIP(r), files)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func opener(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}

// serveImage serves a stored upload to nodes allowed to view receipt images.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	tok := common.NodeTokenFromContext(r.Context())
	if tok == nil || !tok.CanViewReceiptImages {
		writeDetail(w, http.StatusUnauthorized, "Current node is not authorized to view receipt images")
		return
	}
	rel := path.Join(r.PathValue("year"), r.PathValue("month"), r.PathValue("dir"), r.PathValue("file"))
	f, info, err := s.store.Open(rel)
	if errors.Is(err, ingest.ErrInvalidPath) {
		writeDetail(w, http.StatusNotFound, "File not found or invalid")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
