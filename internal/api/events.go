package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/reedfamily/rcelink/internal/event"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Feed is the event source behind the live stream.
type Feed interface {
	Subscribe(kinds ...event.Kind) *event.Subscription
	Unsubscribe(sub *event.Subscription)
}

type EventHandler struct {
	feed   Feed
	logger *slog.Logger
}

func NewEventHandler(feed Feed, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{feed: feed, logger: logger}
}

// Live streams events as JSON text frames. The kinds query parameter is a
// comma-separated filter and server restricts the stream to one server.
func (h *EventHandler) Live(w http.ResponseWriter, r *http.Request) {
	var kinds []event.Kind
	if s := r.URL.Query().Get("kinds"); s != "" {
		known := make(map[event.Kind]bool, len(event.Kinds))
		for _, k := range event.Kinds {
			known[k] = true
		}
		for _, k := range strings.Split(s, ",") {
			k := event.Kind(strings.TrimSpace(k))
			if !known[k] {
				writeError(w, http.StatusBadRequest, "unknown event kind "+string(k))
				return
			}
			kinds = append(kinds, k)
		}
	}
	server := r.URL.Query().Get("server")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("events websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	sub := h.feed.Subscribe(kinds...)
	defer h.feed.Unsubscribe(sub)

	// Read from client to detect disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if server != "" && ev.ServerID() != server {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
