// Package realtime fans database change notifications out to long-lived
// subscriber connections.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/internal/metrics"
)

// Event is pushed to subscribers when their receipt changes. Close marks the
// sentinel delivered on unregistration.
type Event struct {
	ReceiptID int64
	Close     bool
}

// Connection is one subscriber's queue with a single slot. Only the newest
// undelivered event is kept.
type Connection struct {
	ID           string
	SubscriberID int64

	events chan Event
	closed bool // guarded by Registry.mu
}

func (c *Connection) Events() <-chan Event { return c.events }

// Next waits for the next event. It returns false once the connection has
// been unregistered or ctx is done.
func (c *Connection) Next(ctx context.Context) (Event, bool) {
	select {
	case ev := <-c.events:
		if ev.Close {
			return ev, false
		}
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// offer puts ev in the slot, replacing a pending event. Callers hold Registry.mu,
// so no other sender can refill the slot between the drain and the send.
func offer(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Registry maps subscriber ids to their open connections.
type Registry struct {
	mu     sync.Mutex
	conns  map[int64]map[string]*Connection
	closed bool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{conns: make(map[int64]map[string]*Connection), logger: logger}
}

// Register opens a connection for subscriberID. After Shutdown the returned
// connection is already closed: Next reports false at once.
func (r *Registry) Register(subscriberID int64) *Connection {
	c := &Connection{
		ID:           uuid.New().String(),
		SubscriberID: subscriberID,
		events:       make(chan Event, 1),
	}
	r.mu.Lock()
	if r.closed {
		c.closed = true
		c.events <- Event{ReceiptID: subscriberID, Close: true}
		r.mu.Unlock()
		r.logger.Debug("stream.rejected", "receipt_id", subscriberID, "connection_id", c.ID)
		return c
	}
	set, ok := r.conns[subscriberID]
	if !ok {
		set = make(map[string]*Connection)
		r.conns[subscriberID] = set
	}
	set[c.ID] = c
	r.mu.Unlock()

	metrics.StreamConnections.Inc()
	r.logger.Debug("stream.registered", "receipt_id", subscriberID, "connection_id", c.ID)
	return c
}

// Unregister removes c and wakes its reader with the close sentinel. Calling
// it again is a no-op.
func (r *Registry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(c)
}

func (r *Registry) unregisterLocked(c *Connection) {
	if c.closed {
		return
	}
	c.closed = true
	if set, ok := r.conns[c.SubscriberID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.conns, c.SubscriberID)
		}
	}
	offer(c.events, Event{ReceiptID: c.SubscriberID, Close: true})
	metrics.StreamConnections.Dec()
	r.logger.Debug("stream.unregistered", "receipt_id", c.SubscriberID, "connection_id", c.ID)
}

// Broadcast delivers ev to every connection of subscriberID without
// blocking and returns how many connections received it.
func (r *Registry) Broadcast(subscriberID int64, ev Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[subscriberID]
	for _, c := range set {
		offer(c.events, ev)
	}
	if n := len(set); n > 0 {
		metrics.Broadcasts.Add(float64(n))
		return n
	}
	return 0
}

// Count returns the number of open connections for subscriberID.
func (r *Registry) Count(subscriberID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[subscriberID])
}

// Shutdown unregisters every connection and refuses new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	n := 0
	for _, set := range r.conns {
		for _, c := range set {
			r.unregisterLocked(c)
			n++
		}
	}
	r.logger.Info("stream registry shut down", "connections", n)
}
