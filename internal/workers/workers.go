// Package workers holds the enrichment nodes that consume broker queues and
// report back to the API over HTTP.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-pipeline/internal/messaging"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
)

// Node names accepted by cmd/worker --node.
const (
	NodeImageReader   = "image-reader"
	NodeEntityFinder  = "entity-finder"
	NodeProductFinder = "product-finder"
)

// ErrConsumerClosed is returned by Run when the broker ends the delivery
// stream while the worker is still meant to be running.
var ErrConsumerClosed = errors.New("consumer closed by broker")

// Consumer is the part of messaging.Consumer a worker process drives.
type Consumer interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Stop()
}

// Run starts c and blocks until ctx ends or the broker closes the stream.
func Run(ctx context.Context, c Consumer) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		c.Stop()
		return nil
	case <-c.Done():
		c.Stop()
		if ctx.Err() != nil {
			return nil
		}
		return ErrConsumerClosed
	}
}

// ErrorHandler logs consumer failures by kind: undecodable deliveries,
// schema validation failures, and handler errors.
func ErrorHandler(logger *slog.Logger) messaging.ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, err error) {
		var (
			decodeErr *messaging.DecodeError
			schemaErr *jsonschema.ValidationError
		)
		switch {
		case errors.As(err, &schemaErr):
			logger.Warn("worker.validation_error", "error", err)
		case errors.As(err, &decodeErr):
			logger.Warn("worker.decode_error", "queue", decodeErr.Queue, "error", err, "body", truncate(string(decodeErr.Body), 256))
		case errors.Is(err, retryhttp.ErrCancelled), errors.Is(err, context.Canceled):
			logger.Info("worker.cancelled", "error", err)
		default:
			logger.Error("worker.handler_error", "error", err)
		}
	}
}

// detail pulls {"detail": "..."} out of an API error body.
func detail(resp *retryhttp.Response) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := resp.DecodeJSON(&body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(truncate(string(resp.Body), 256))
}

func statusError(op string, resp *retryhttp.Response) error {
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, detail(resp))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
