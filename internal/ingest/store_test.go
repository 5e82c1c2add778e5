package ingest_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	jpegBytes = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), make([]byte, 32)...)
)

func newStore(t *testing.T) (*ingest.FSStore, string) {
	t.Helper()
	base := t.TempDir()
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ingest.NewFSStore(base, logger, ingest.WithClock(func() time.Time { return now })), base
}

func TestReserveSequence(t *testing.T) {
	store, base := newStore(t)
	dir := "2026/10/" + ingest.HashIP("10.0.0.1")

	first, err := store.Reserve("10.0.0.1", "jpg")
	require.NoError(t, err)
	assert.Equal(t, dir+"/20261016093000-1.jpg", first.Rel)

	second, err := store.Reserve("10.0.0.1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, dir+"/20261016093000-2.pdf", second.Rel)

	_, err = os.Stat(filepath.Join(base, filepath.FromSlash(second.Rel)))
	assert.NoError(t, err, "reserving creates a placeholder")

	store.Discard(first)
	third, err := store.Reserve("10.0.0.1", "png")
	require.NoError(t, err)
	assert.Equal(t, dir+"/20261016093000-1.png", third.Rel, "a discarded slot is free again")

	other, err := store.Reserve("10.0.0.2", "jpg")
	require.NoError(t, err)
	assert.Equal(t, "2026/10/"+ingest.HashIP("10.0.0.2")+"/20261016093000-1.jpg", other.Rel)

	_, err = store.Reserve("10.0.0.1", "exe")
	assert.Error(t, err)
}

func TestReserveConcurrent(t *testing.T) {
	store, _ := newStore(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := store.Reserve("10.0.0.1", "jpg")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[slot.Rel], "duplicate slot %s", slot.Rel)
			seen[slot.Rel] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8)
}

func TestWriteValidates(t *testing.T) {
	store, _ := newStore(t)

	tests := []struct {
		name    string
		ext     string
		data    []byte
		wantErr bool
	}{
		{"png", "png", pngBytes, false},
		{"jpeg", "jpg", jpegBytes, false},
		{"empty", "jpg", nil, true},
		{"text as image", "png", []byte("hello, this is not an image"), true},
		{"text as pdf", "pdf", []byte("hello, this is not a pdf"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, err := store.Reserve("10.0.0.1", tt.ext)
			require.NoError(t, err)
			err = store.Write(slot, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			f, info, err := store.Open(slot.Rel)
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, int64(len(tt.data)), info.Size())
		})
	}
}

func TestOpenRejectsEscapes(t *testing.T) {
	store, base := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(base), "secret.jpg"), jpegBytes, 0o644))

	slot, err := store.Reserve("10.0.0.1", "jpg")
	require.NoError(t, err)

	for _, rel := range []string{"../secret.jpg", "/etc/passwd", "", ".", "2026/10", slot.Rel} {
		_, _, err := store.Open(rel)
		assert.ErrorIs(t, err, ingest.ErrInvalidPath, rel)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/upload/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", ingest.ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ingest.ClientIP(r))
}
