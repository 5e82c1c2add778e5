package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
)

// FSStore keeps uploads below a base directory.
type FSStore struct {
	base   string
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

type StoreOption func(*FSStore)

// WithClock replaces time.Now when naming files.
func WithClock(now func() time.Time) StoreOption {
	return func(s *FSStore) { s.now = now }
}

func NewFSStore(base string, logger *slog.Logger, opts ...StoreOption) *FSStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FSStore{base: base, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve claims the next free <timestamp>-<seq> name in the client's directory
// by creating an empty placeholder. The scan and the exclusive create happen
// under one lock, so concurrent requests never share a sequence number.
func (s *FSStore) Reserve(clientIP, ext string) (*Slot, error) {
	if !AllowedExt(ext) {
		return nil, fmt.Errorf("unsupported file type: %s", ext)
	}
	now := s.now()
	dirRel := path.Join(now.Format("2006"), now.Format("01"), HashIP(clientIP))
	dir := filepath.Join(s.base, filepath.FromSlash(dirRel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	stamp := now.Format("20060102150405")

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	taken := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := e.Name()
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		taken[name] = struct{}{}
	}

	for seq := 1; ; seq++ {
		prefix := fmt.Sprintf("%s-%d", stamp, seq)
		if _, ok := taken[prefix]; ok {
			continue
		}
		name := prefix + "." + ext
		abs := filepath.Join(dir, name)
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("reserve %s: %w", name, err)
		}
		return &Slot{Rel: path.Join(dirRel, name), Ext: ext, abs: abs}, nil
	}
}

// Write validates data for the slot's extension and stores it.
func (s *FSStore) Write(slot *Slot, data []byte) error {
	if err := Validate(slot.Ext, data); err != nil {
		return err
	}
	if err := os.WriteFile(slot.abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", slot.Rel, err)
	}
	s.logger.Debug("upload stored", "path", slot.Rel, "bytes", len(data))
	return nil
}

// Discard removes the placeholder of a slot that will not be written.
func (s *FSStore) Discard(slot *Slot) {
	if err := os.Remove(slot.abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove upload placeholder", "path", slot.Rel, "error", err)
	}
}

// Open returns the stored file at the slash-separated path rel. Paths leaving
// the base directory, directories and unwritten placeholders are rejected.
func (s *FSStore) Open(rel string) (*os.File, fs.FileInfo, error) {
	if !fs.ValidPath(rel) || rel == "." {
		return nil, nil, ErrInvalidPath
	}
	root, err := os.OpenRoot(s.base)
	if err != nil {
		return nil, nil, fmt.Errorf("open upload root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(filepath.FromSlash(rel))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		f.Close()
		return nil, nil, ErrInvalidPath
	}
	return f, info, nil
}

// Validate checks that data looks like a file of type ext.
func Validate(ext string, data []byte) error {
	if len(data) == 0 {
		return errors.New("file is empty")
	}
	if IsImage(ext) {
		ct := http.DetectContentType(data)
		if ct != "image/jpeg" && ct != "image/png" {
			return fmt.Errorf("content is %s, not an image", ct)
		}
		return nil
	}
	if ext == "pdf" {
		return validatePDF(data)
	}
	return fmt.Errorf("unsupported file type: %s", ext)
}

func validatePDF(data []byte) (err error) {
	// the parser panics on some truncated documents
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unreadable PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("unreadable PDF: %w", err)
	}
	if r.NumPage() == 0 || r.Page(1).V.IsNull() {
		return errors.New("PDF has no pages")
	}
	return nil
}
