package obslog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TailHandler serves the live log tail over a websocket, replaying the
// most recent buffered entries before streaming new ones.
type TailHandler struct {
	buffer *RingBuffer
	logger *slog.Logger
}

// NewTailHandler builds a TailHandler reading from buffer.
func NewTailHandler(buffer *RingBuffer) *TailHandler {
	return &TailHandler{buffer: buffer, logger: slog.Default().With("component", "obslog-tail")}
}

func (h *TailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade log tail connection", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	for _, entry := range h.buffer.GetRecent(100) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(EntryToJSON(entry))); err != nil {
			return
		}
	}

	sub := h.buffer.Subscribe()
	defer h.buffer.Unsubscribe(sub)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(EntryToJSON(entry))); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// DrainClosed reports whether the channel backing a subscription has been
// closed, e.g. to check that Unsubscribe tore it down.
func DrainClosed(ch chan Entry) bool {
	_, ok := <-ch
	return !ok
}

// SnapshotHandler serves the most recent buffered entries as a single JSON
// array, for clients that can't hold a websocket open.
func SnapshotHandler(buffer *RingBuffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(buffer.GetRecent(200))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}
