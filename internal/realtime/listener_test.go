package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type waitResult struct {
	n   *pgconn.Notification
	err error
}

// fakeConn feeds queued notifications to WaitForNotification.
type fakeConn struct {
	results chan waitResult

	mu     sync.Mutex
	execs  []string
	waits  int
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{results: make(chan waitResult, 8)}
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (f *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	select {
	case r := <-f.results:
		return r.n, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) notify(payload string) {
	f.results <- waitResult{n: &pgconn.Notification{Channel: StatusChannel, Payload: payload}}
}

func (f *fakeConn) waitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

func setupListener(t *testing.T) (*Listener, *Registry, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	reg := NewRegistry(testLogger())
	l := NewListener(func(context.Context) (NotificationConn, error) { return conn, nil }, reg, testLogger(),
		WithPollTimeout(10*time.Millisecond))
	return l, reg, conn
}

func runAsync(ctx context.Context, l *Listener) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	return errc
}

// TestListenerBroadcastsNotifications tests that a status notification reaches the subscriber.
func TestListenerBroadcastsNotifications(t *testing.T) {
	l, reg, conn := setupListener(t)
	sub := reg.Register(7)

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, l)

	conn.notify("7")
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	ev, ok := sub.Next(waitCtx)
	require.True(t, ok)
	assert.Equal(t, int64(7), ev.ReceiptID)

	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, []string{`LISTEN "receipt_status_changed"`}, conn.execs)
	assert.True(t, conn.closed)
}

// TestListenerLoopsOnTimeout tests that idle polls keep the listener alive.
func TestListenerLoopsOnTimeout(t *testing.T) {
	l, reg, conn := setupListener(t)
	sub := reg.Register(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runAsync(ctx, l)

	require.Eventually(t, func() bool { return conn.waitCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	conn.notify("3")
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_, ok := sub.Next(waitCtx)
	assert.True(t, ok)

	cancel()
	assert.NoError(t, <-errc)
}

// TestListenerStopsOnBadPayload tests that a non-integer payload ends Run with an error.
func TestListenerStopsOnBadPayload(t *testing.T) {
	l, _, conn := setupListener(t)
	conn.notify("not-a-number")

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-number")
}

// TestListenerStopsOnConnectionError tests that a dropped connection is reported.
func TestListenerStopsOnConnectionError(t *testing.T) {
	l, _, conn := setupListener(t)
	lost := errors.New("connection reset by peer")
	conn.results <- waitResult{err: lost}

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, lost)
}

// TestListenerConnectError tests that a failed connect is returned.
func TestListenerConnectError(t *testing.T) {
	boom := errors.New("no route to host")
	l := NewListener(func(context.Context) (NotificationConn, error) { return nil, boom }, NewRegistry(testLogger()), testLogger())
	assert.ErrorIs(t, l.Run(context.Background()), boom)
}
