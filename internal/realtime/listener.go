package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// StatusChannel is the notification channel written by the receipts trigger.
const StatusChannel = "receipt_status_changed"

const defaultPollTimeout = 5 * time.Second

// NotificationConn is the part of *pgx.Conn the listener uses.
type NotificationConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type ConnFactory func(ctx context.Context) (NotificationConn, error)

// PgxConnFactory opens a dedicated connection for LISTEN, outside any pool.
func PgxConnFactory(dsn string) ConnFactory {
	return func(ctx context.Context) (NotificationConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Listener turns receipt status notifications into registry broadcasts.
type Listener struct {
	connect     ConnFactory
	registry    *Registry
	logger      *slog.Logger
	channel     string
	pollTimeout time.Duration
}

type ListenerOption func(*Listener)

func WithPollTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) { l.pollTimeout = d }
}

func WithChannel(name string) ListenerOption {
	return func(l *Listener) { l.channel = name }
}

func NewListener(connect ConnFactory, registry *Registry, logger *slog.Logger, opts ...ListenerOption) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		connect:     connect,
		registry:    registry,
		logger:      logger,
		channel:     StatusChannel,
		pollTimeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run listens until ctx is done, returning nil, or until the connection
// fails or a payload is not a receipt id, returning the error.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.connect(ctx)
	if err != nil {
		l.logger.Error("listener.connect_error", "error", err)
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			l.logger.Warn("listener.close_error", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		l.logger.Error("listener.listen_error", "channel", l.channel, "error", err)
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("listener.started", "channel", l.channel)

	for {
		if ctx.Err() != nil {
			l.logger.Info("listener.stopped", "channel", l.channel)
			return nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, l.pollTimeout)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
				continue
			}
			l.logger.Error("listener.wait_error", "channel", l.channel, "error", err)
			return fmt.Errorf("wait for notification: %w", err)
		}

		id, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			l.logger.Error("listener.bad_payload", "channel", n.Channel, "payload", n.Payload, "error", err)
			return fmt.Errorf("notification payload %q is not a receipt id: %w", n.Payload, err)
		}
		delivered := l.registry.Broadcast(id, Event{ReceiptID: id})
		l.logger.Debug("listener.notification", "receipt_id", id, "delivered", delivered)
	}
}
