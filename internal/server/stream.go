package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

const wsWriteWait = 10 * time.Second

// statusChanges streams "data: <id>\n\n" each time the receipt changes. The
// stream ends when the client leaves or the registry shuts down.
func (s *Server) statusChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.receipts.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	conn := s.registry.Register(id)
	defer s.registry.Unregister(conn)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("stream.flush_error", "receipt_id", id, "error", err)
		return
	}

	for {
		ev, ok := conn.Next(r.Context())
		if !ok {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %d\n\n", ev.ReceiptID); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// statusWS mirrors statusChanges over a websocket: one text frame with the
// receipt id per change.
func (s *Server) statusWS(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.receipts.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.logger.Warn("stream.ws_upgrade_error", "receipt_id", id, "error", err)
		return
	}
	defer ws.Close()

	conn := s.registry.Register(id)
	defer s.registry.Unregister(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		ev, ok := conn.Next(ctx)
		if !ok {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(strconv.FormatInt(ev.ReceiptID, 10))); err != nil {
			s.logger.Debug("stream.ws_write_error", "req_id", common.RequestIDFromContext(r.Context()), "receipt_id", id, "error", err)
			return
		}
	}
}
