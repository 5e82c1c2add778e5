package common

import (
	"context"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyNodeToken contextKey = "node_token"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithNodeToken adds the authenticated node token to the context
func WithNodeToken(ctx context.Context, token *entity.NodeToken) context.Context {
	return context.WithValue(ctx, ContextKeyNodeToken, token)
}

// NodeTokenFromContext extracts the node token from context
func NodeTokenFromContext(ctx context.Context) *entity.NodeToken {
	if token, ok := ctx.Value(ContextKeyNodeToken).(*entity.NodeToken); ok {
		return token
	}
	return nil
}

// WithTimeout creates a context with the specified timeout
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
