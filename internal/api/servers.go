package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reedfamily/rcelink/internal/command"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
	"github.com/reedfamily/rcelink/internal/journal"
	"github.com/reedfamily/rcelink/internal/rce"
	"github.com/reedfamily/rcelink/internal/registry"
	"github.com/reedfamily/rcelink/internal/socket"
)

// CommandTimeout bounds a command request, including time queued while the
// server is not ready.
const CommandTimeout = 30 * time.Second

// Manager is the part of rce.Manager the API drives.
type Manager interface {
	Servers() []event.ServerRef
	GetServer(id string) (event.ServerRef, bool)
	AddServer(ctx context.Context, opts registry.Options) error
	RemoveServer(id string) bool
	SendCommand(ctx context.Context, id, cmd string, wantResponse bool) (string, error)
	ConnectionState() socket.State
}

// History serves recorded events.
type History interface {
	Recent(server string, limit int) ([]journal.Entry, error)
}

type ServerHandler struct {
	rce     Manager
	history History
}

// NewServerHandler builds the server handlers. history may be nil when the
// journal is disabled.
func NewServerHandler(m Manager, history History) *ServerHandler {
	return &ServerHandler{rce: m, history: history}
}

// Status reports the socket state and how many servers are ready.
func (h *ServerHandler) Status(w http.ResponseWriter, r *http.Request) {
	servers := h.rce.Servers()
	ready := 0
	for _, s := range servers {
		if s.Ready {
			ready++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection": h.rce.ConnectionState(),
		"servers":    len(servers),
		"ready":      ready,
	})
}

func (h *ServerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rce.Servers())
}

func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.rce.GetServer(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier     string `json:"identifier"`
		ServerID       int    `json:"server_id"`
		Region         string `json:"region"`
		RefreshPlayers int    `json:"refresh_players"`
		RFBroadcasting bool   `json:"rf_broadcasting"`
		HeliFeeds      bool   `json:"heli_feeds"`
		BradFeeds      bool   `json:"brad_feeds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := h.rce.GetServer(req.Identifier); ok {
		writeError(w, http.StatusConflict, "server already exists")
		return
	}

	err := h.rce.AddServer(r.Context(), registry.Options{
		Identifier:     req.Identifier,
		ServerID:       req.ServerID,
		Region:         gportal.Region(req.Region),
		RefreshPlayers: req.RefreshPlayers,
		RFBroadcasting: req.RFBroadcasting,
		HeliFeeds:      req.HeliFeeds,
		BradFeeds:      req.BradFeeds,
	})
	switch {
	case err == nil:
		s, _ := h.rce.GetServer(req.Identifier)
		writeJSON(w, http.StatusCreated, s)
	case errors.Is(err, rce.ErrAddDeferred):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "deferred"})
	case errors.Is(err, rce.ErrInvalidServer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rce.ErrSuspended):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *ServerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.rce.RemoveServer(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Command runs a console command. With "response": true the reply waits for
// the console response line, which is empty when none arrived in time.
func (h *ServerHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command  string `json:"command"`
		Response bool   `json:"response"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), CommandTimeout)
	defer cancel()
	text, err := h.rce.SendCommand(ctx, chi.URLParam(r, "id"), req.Command, req.Response)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"response": text})
	case errors.Is(err, command.ErrUnknownServer):
		writeError(w, http.StatusNotFound, "server not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "server did not become ready")
	case errors.Is(err, command.ErrNotConnected), errors.Is(err, command.ErrConnectionReset):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// Events returns the server's recorded history, newest first.
func (h *ServerHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.history.Recent(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
