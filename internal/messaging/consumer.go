package messaging

import (
	"context"
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

// Handler processes one decoded message. A nil return acks the delivery.
type Handler[T any] func(ctx context.Context, msg T) error

// ErrorHandler observes decode and handler failures before the delivery is
// rejected or requeued. err is a *DecodeError or a *HandlerError.
type ErrorHandler func(ctx context.Context, err error)

type settlement struct {
	delivery amqp.Delivery
	ack      bool
	requeue  bool
}

// Consumer delivers messages from one queue to a typed handler, one at a
// time. Receiving and settling deliveries happen on a network goroutine;
// the handler runs on its own goroutine and is fed through a single-slot
// hand-off, so a slow handler never blocks the connection.
type Consumer[T any] struct {
	broker  *Broker
	queue   string
	schema  *common.Schema
	handle  Handler[T]
	onError ErrorHandler
	tag     string
	logger  *slog.Logger

	handoff chan amqp.Delivery
	settled chan settlement

	mu          sync.Mutex
	ch          Channel
	cancel      context.CancelFunc
	netDone     chan struct{}
	handlerDone chan struct{}
	stopOnce    sync.Once
}

type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	tag    string
	logger *slog.Logger
}

func WithConsumerTag(tag string) ConsumerOption {
	return func(o *consumerOptions) { o.tag = tag }
}

func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) { o.logger = logger }
}

// NewConsumer binds queue to schema and handler. onError may be nil.
func NewConsumer[T any](broker *Broker, queue string, schema *common.Schema, handle Handler[T], onError ErrorHandler, opts ...ConsumerOption) *Consumer[T] {
	o := consumerOptions{tag: queue + "-" + uuid.New().String(), logger: broker.logger}
	for _, opt := range opts {
		opt(&o)
	}
	if onError == nil {
		onError = func(context.Context, error) {}
	}
	return &Consumer[T]{
		broker:  broker,
		queue:   queue,
		schema:  schema,
		handle:  handle,
		onError: onError,
		tag:     o.tag,
		logger:  o.logger.With("queue", queue),
		handoff: make(chan amqp.Delivery, 1),
		settled: make(chan settlement, 1),
	}
}

// Start begins consuming with a prefetch of one and manual acks. It returns
// once the subscription is active.
func (c *Consumer[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("consumer for %q already started", c.queue)
	}

	ch, err := c.broker.channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set prefetch on %q: %w", c.queue, err)
	}
	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.ch = ch
	c.cancel = cancel
	c.netDone = make(chan struct{})
	c.handlerDone = make(chan struct{})

	go c.network(runCtx, deliveries)
	go c.handlerLoop(runCtx)

	c.logger.Info("consumer.started", "tag", c.tag)
	return nil
}

// Done is closed when the network goroutine exits, either after Stop or
// because the broker closed the delivery stream.
func (c *Consumer[T]) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.netDone
}

func (c *Consumer[T]) network(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.netDone)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.settled:
			c.settle(s)
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("consumer.deliveries_closed")
				return
			}
			if !c.handOff(ctx, d) {
				return
			}
		}
	}
}

// handOff blocks until the handler slot accepts d, settling finished
// deliveries while it waits.
func (c *Consumer[T]) handOff(ctx context.Context, d amqp.Delivery) bool {
	for {
		select {
		case c.handoff <- d:
			return true
		case s := <-c.settled:
			c.settle(s)
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Consumer[T]) settle(s settlement) {
	var err error
	switch {
	case s.ack:
		err = s.delivery.Ack(false)
		metrics.MessagesConsumed.WithLabelValues(c.queue, "ack").Inc()
	case s.requeue:
		err = s.delivery.Nack(false, true)
		metrics.MessagesConsumed.WithLabelValues(c.queue, "requeue").Inc()
	default:
		err = s.delivery.Nack(false, false)
		metrics.MessagesConsumed.WithLabelValues(c.queue, "nack").Inc()
	}
	if err != nil {
		c.logger.Error("consumer.settle_error", "delivery_tag", s.delivery.DeliveryTag, "ack", s.ack, "requeue", s.requeue, "error", err)
	}
}

func (c *Consumer[T]) handlerLoop(ctx context.Context) {
	defer close(c.handlerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.handoff:
			if ctx.Err() != nil {
				return
			}
			s := c.process(ctx, d)
			select {
			case c.settled <- s:
			case <-ctx.Done():
				// The network goroutine is gone; settle here before the channel closes.
				c.settle(s)
			}
		}
	}
}

// process runs the handler for d. A handler that fails because the consumer
// is stopping gets its delivery requeued; every other failure is dropped.
func (c *Consumer[T]) process(ctx context.Context, d amqp.Delivery) settlement {
	msg, err := decode[T](c.schema, d.Body)
	if err != nil {
		c.logger.Warn("consumer.decode_error", "delivery_tag", d.DeliveryTag, "error", err)
		c.onError(ctx, &DecodeError{Queue: c.queue, Body: d.Body, Err: err})
		return settlement{delivery: d}
	}

	start := time.Now()
	err = c.invoke(ctx, msg)
	metrics.HandlerDuration.WithLabelValues(c.queue).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("consumer.handler_error", "delivery_tag", d.DeliveryTag, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		c.onError(ctx, err)
		if ctx.Err() != nil {
			c.logger.Info("consumer.requeue", "delivery_tag", d.DeliveryTag)
			return settlement{delivery: d, requeue: true}
		}
		return settlement{delivery: d}
	}
	c.logger.Debug("consumer.handled", "delivery_tag", d.DeliveryTag, "elapsed_ms", time.Since(start).Milliseconds())
	return settlement{delivery: d, ack: true}
}

func (c *Consumer[T]) invoke(ctx context.Context, msg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Queue: c.queue, Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()
	if herr := c.handle(ctx, msg); herr != nil {
		return &HandlerError{Queue: c.queue, Err: herr}
	}
	return nil
}

// Stop ends consumption: the handler loop is cancelled and joined first,
// then the broker subscription is cancelled and the network side is closed
// and joined. It is safe to call more than once.
func (c *Consumer[T]) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel, ch := c.cancel, c.ch
		netDone, handlerDone := c.netDone, c.handlerDone
		c.mu.Unlock()
		if cancel == nil {
			return
		}

		cancel()
		<-handlerDone
		if err := ch.Cancel(c.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("consumer.cancel_error", "error", err)
		}
		<-netDone
		select {
		case s := <-c.settled:
			c.settle(s)
		default:
		}
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("consumer.close_error", "error", err)
		}
		c.logger.Info("consumer.stopped", "tag", c.tag)
	})
}
