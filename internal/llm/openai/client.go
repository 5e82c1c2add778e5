package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
)

// Extract implements llm.Extractor using a vision chat/completions call.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (*entity.PurchaseCreate, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"receipt_id", req.ReceiptID,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"image_bytes", len(req.ImageDataURL),
	)
	if req.ImageDataURL == "" {
		return nil, nil, fmt.Errorf("receipt %d: no image attached", req.ReceiptID)
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(llm.BuildPurchaseJSONSchema())},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": llm.BuildUserPrompt(req)},
				{"type": "image_url", "image_url": map[string]any{"url": req.ImageDataURL, "detail": "high"}},
			}},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	resp, err := c.http.PostJSON(ctx, endpoint, body)
	if err == nil && !resp.OK() {
		err = fmt.Errorf("non-2xx status %d: %s", resp.StatusCode, truncate(resp.Body, 512))
	}
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, err
	}
	raw := resp.Body

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, fmt.Errorf("no choices in openai response")
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	cleaned, _, err := llm.NormalizeAndSanitizeJSON(content, c.logger)
	if err != nil {
		c.logger.Error("llm.extract.sanitize_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, content, fmt.Errorf("sanitize failed: %w", err)
	}
	if err := llm.PurchaseReadSchema.Validate(cleaned); err != nil {
		c.logger.Error("llm.extract.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(cleaned),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, cleaned, fmt.Errorf("schema validation failed: %w", err)
	}

	var read llm.ReadPurchase
	if err := json.Unmarshal(cleaned, &read); err != nil {
		return nil, cleaned, fmt.Errorf("unmarshal fields: %w", err)
	}
	out, err := read.ToPurchaseCreate()
	if err != nil {
		c.logger.Error("llm.extract.convert_failed", "req_id", rid, "error", err)
		return nil, cleaned, fmt.Errorf("convert fields: %w", err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"receipt_id", req.ReceiptID,
		"entity", read.EntityName,
		"date", read.Date,
		"total", read.Total,
		"items", len(out.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, cleaned, nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
