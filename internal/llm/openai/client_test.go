package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
)

func completion(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return b
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// TestExtract tests the vision request shape and conversion of the reply.
func TestExtract(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string           `json:"model"`
			Messages []map[string]any `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 3)
		parts := body.Messages[2]["content"].([]any)
		image := parts[1].(map[string]any)["image_url"].(map[string]any)
		assert.Equal(t, "data:image/png;base64,AAAA", image["url"])

		_, _ = w.Write(completion(`{"entity_name":"Kiosco","date":"2026-01-02","total":"15","items":[{"text":"Agua","total":15}]}`))
	})

	p, raw, err := c.Extract(context.Background(), llm.ExtractRequest{ReceiptID: 3, ImageDataURL: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, "Kiosco", *p.ReadEntityName)
	assert.Equal(t, 15.0, *p.Total)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "Agua", *p.Items[0].ReadProductText)
}

// TestExtractErrors tests provider failures and invalid model output.
func TestExtractErrors(t *testing.T) {
	req := llm.ExtractRequest{ReceiptID: 3, ImageDataURL: "data:image/png;base64,AAAA"}

	t.Run("provider error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
		})
		_, _, err := c.Extract(context.Background(), req)
		assert.ErrorContains(t, err, "503")
	})

	t.Run("no choices", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		})
		_, _, err := c.Extract(context.Background(), req)
		assert.ErrorContains(t, err, "no choices")
	})

	t.Run("schema mismatch", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(completion(`{"entity_name":"Kiosco","items":[]}`))
		})
		_, raw, err := c.Extract(context.Background(), req)
		assert.ErrorContains(t, err, "schema validation failed")
		assert.NotEmpty(t, raw)
	})

	t.Run("missing image", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, _, err := c.Extract(context.Background(), llm.ExtractRequest{ReceiptID: 3})
		assert.Error(t, err)
	})
}
