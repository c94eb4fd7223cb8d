package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventHandler streams batch progress events over a websocket.
type EventHandler struct {
	handlers *Handlers
	upgrader websocket.Upgrader
}

// NewEventHandler creates an EventHandler that accepts connections from
// the given origins. "*" accepts any origin.
func NewEventHandler(h *Handlers, allowedOrigins []string) *EventHandler {
	return &EventHandler{
		handlers: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, ao := range allowedOrigins {
					if ao == "*" || ao == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeHTTP handles GET /batches/{id}/events requests.
// The stream ends when the client disconnects or the batch is deleted.
func (e *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathID(w, r)
	if !ok {
		return
	}
	logger := e.handlers.logger.With(slog.String("batch_id", batchID))

	events, unsubscribe, err := e.handlers.service.Subscribe(r.Context(), batchID)
	if err != nil {
		e.handlers.writeServiceError(w, batchID, "failed to subscribe", err)
		return
	}
	defer unsubscribe()

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	logger.Debug("event stream opened")

	// Reads only serve control frames; any read error means the client is gone.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch ended"))
				logger.Debug("event stream closed by batch end")
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Debug("event stream closed by client")
			return
		}
	}
}
