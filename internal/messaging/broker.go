// Package messaging is a typed layer over an AMQP 0-9-1 broker: topology
// helpers, a reconnecting publisher and a schema-checked consumer.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

const DefaultHeartbeat = 600 * time.Second

// Channel is the part of *amqp.Channel the package uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Connection is the part of *amqp.Connection the package uses.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AMQPDialer dials with amqp091-go using the given heartbeat.
func AMQPDialer(heartbeat time.Duration) Dialer {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return func(url string) (Connection, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: heartbeat,
			Locale:    "en_US",
		})
		if err != nil {
			return nil, err
		}
		return amqpConnection{conn}, nil
	}
}

// Broker owns one connection and hands out channels for publishers and consumers.
type Broker struct {
	url    string
	dial   Dialer
	logger *slog.Logger

	mu   sync.Mutex
	conn Connection
}

type BrokerOption func(*Broker)

func WithDialer(d Dialer) BrokerOption {
	return func(b *Broker) { b.dial = d }
}

// Dial connects to url and returns a ready broker.
func Dial(url string, logger *slog.Logger, opts ...BrokerOption) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{url: url, dial: AMQPDialer(DefaultHeartbeat), logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connectLocked() error {
	conn, err := b.dial(b.url)
	if err != nil {
		b.logger.Error("broker.dial_error", "error", err)
		return fmt.Errorf("dial broker: %w", err)
	}
	b.conn = conn
	b.logger.Info("broker.connected")
	return nil
}

// channel opens a fresh channel, redialing first when the connection is gone.
func (b *Broker) channel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		if err := b.connectLocked(); err != nil {
			return nil, err
		}
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// reconnect drops the current connection and dials a new one.
func (b *Broker) reconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && !b.conn.IsClosed() {
		_ = b.conn.Close()
	}
	return b.connectLocked()
}

func isNotFound(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound
}

// EnsureExchange makes sure a fanout exchange exists, creating it when a
// passive declare reports it missing. The empty name is the default exchange.
func (b *Broker) EnsureExchange(name string) error {
	if name == "" {
		return nil
	}
	ch, err := b.channel()
	if err != nil {
		return &TopologyError{Kind: "exchange", Name: name, Err: err}
	}
	err = ch.ExchangeDeclarePassive(name, amqp.ExchangeFanout, false, true, false, false, nil)
	if err == nil {
		_ = ch.Close()
		return nil
	}
	if !isNotFound(err) {
		_ = ch.Close()
		return &TopologyError{Kind: "exchange", Name: name, Err: err}
	}

	// A failed passive declare closes the channel on the server side.
	ch, err = b.channel()
	if err != nil {
		return &TopologyError{Kind: "exchange", Name: name, Err: err}
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(name, amqp.ExchangeFanout, false, true, false, false, nil); err != nil {
		return &TopologyError{Kind: "exchange", Name: name, Err: err}
	}
	b.logger.Info("broker.exchange.created", "exchange", name)
	return nil
}

// EnsureQueue makes sure a queue exists, creating an auto-delete queue when
// it is missing. It returns the declared name.
func (b *Broker) EnsureQueue(name string) (string, error) {
	ch, err := b.channel()
	if err != nil {
		return "", &TopologyError{Kind: "queue", Name: name, Err: err}
	}
	q, err := ch.QueueDeclarePassive(name, false, true, false, false, nil)
	if err == nil {
		_ = ch.Close()
		return q.Name, nil
	}
	if !isNotFound(err) {
		_ = ch.Close()
		return "", &TopologyError{Kind: "queue", Name: name, Err: err}
	}

	ch, err = b.channel()
	if err != nil {
		return "", &TopologyError{Kind: "queue", Name: name, Err: err}
	}
	defer ch.Close()
	q, err = ch.QueueDeclare(name, false, true, false, false, nil)
	if err != nil {
		return "", &TopologyError{Kind: "queue", Name: name, Err: err}
	}
	b.logger.Info("broker.queue.created", "queue", q.Name)
	return q.Name, nil
}

// Bind binds queue to exchange with the routing key.
func (b *Broker) Bind(queue, exchange, key string) error {
	ch, err := b.channel()
	if err != nil {
		return &TopologyError{Kind: "binding", Name: queue, Err: err}
	}
	defer ch.Close()
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return &TopologyError{Kind: "binding", Name: queue, Err: err}
	}
	return nil
}

// Publisher returns a publisher with its own channel.
func (b *Broker) Publisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{broker: b, logger: b.logger, schemas: map[string]*common.Schema{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close closes the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	b.logger.Info("broker.closing")
	return b.conn.Close()
}
