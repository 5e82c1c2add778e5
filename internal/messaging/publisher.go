package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/metrics"
)

// Publisher sends JSON messages to exchanges. It is safe for concurrent use.
type Publisher struct {
	broker  *Broker
	logger  *slog.Logger
	schemas map[string]*common.Schema

	mu sync.Mutex
	ch Channel
}

type PublisherOption func(*Publisher)

// WithExchangeSchema makes Publish reject bodies for exchange that the
// consuming queues would not accept. An empty exchange name is ignored.
func WithExchangeSchema(exchange string, schema *common.Schema) PublisherOption {
	return func(p *Publisher) {
		if exchange != "" {
			p.schemas[exchange] = schema
		}
	}
}

// Publish JSON-encodes payload and hands it to the broker. If the channel or
// connection is closed it reconnects once and tries again.
func (p *Publisher) Publish(ctx context.Context, exchange, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %T: %w", payload, err)
	}
	if schema, ok := p.schemas[exchange]; ok {
		if err := schema.Validate(body); err != nil {
			metrics.MessagesPublished.WithLabelValues(exchange, "invalid").Inc()
			p.logger.Error("broker.publish.invalid", "exchange", exchange, "schema", schema.Name(), "error", err)
			return &DeliveryError{Exchange: exchange, Key: key, Err: err}
		}
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, key, msg)
	if err == nil {
		metrics.MessagesPublished.WithLabelValues(exchange, "ok").Inc()
		p.logger.Debug("broker.publish.ok", "exchange", exchange, "key", key, "message_id", msg.MessageId)
		return nil
	}
	if !p.closed(err) {
		metrics.MessagesPublished.WithLabelValues(exchange, "error").Inc()
		return &DeliveryError{Exchange: exchange, Key: key, Err: err}
	}

	p.logger.Warn("broker.publish.reconnect", "exchange", exchange, "error", err)
	p.ch = nil
	if rerr := p.broker.reconnect(); rerr != nil {
		metrics.MessagesPublished.WithLabelValues(exchange, "error").Inc()
		return &DeliveryError{Exchange: exchange, Key: key, Err: rerr}
	}
	if err := p.publishLocked(ctx, exchange, key, msg); err != nil {
		metrics.MessagesPublished.WithLabelValues(exchange, "error").Inc()
		p.logger.Error("broker.publish.failed", "exchange", exchange, "error", err)
		return &DeliveryError{Exchange: exchange, Key: key, Err: err}
	}
	metrics.MessagesPublished.WithLabelValues(exchange, "ok").Inc()
	p.logger.Info("broker.publish.ok_after_reconnect", "exchange", exchange, "message_id", msg.MessageId)
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.broker.channel()
		if err != nil {
			return err
		}
		p.ch = ch
	}
	return p.ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}

func (p *Publisher) closed(err error) bool {
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return p.ch != nil && p.ch.IsClosed()
}

// Close releases the publisher channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// Route names where a message goes. Fanout exchanges ignore Key.
type Route struct {
	Exchange string
	Key      string
}
