package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/reedfamily/rcelink/internal/command"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/journal"
	"github.com/reedfamily/rcelink/internal/rce"
	"github.com/reedfamily/rcelink/internal/registry"
	"github.com/reedfamily/rcelink/internal/socket"
)

type fakeManager struct {
	mu      sync.Mutex
	servers map[string]event.ServerRef
	addErr  error
	sent    []string
}

func newFakeManager() *fakeManager {
	return &fakeManager{servers: map[string]event.ServerRef{
		"main": {Identifier: "main", ServerID: 1234, Region: "EU", Ready: true, Added: true},
	}}
}

func (m *fakeManager) Servers() []event.ServerRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.ServerRef
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out
}

func (m *fakeManager) GetServer(id string) (event.ServerRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	return s, ok
}

func (m *fakeManager) AddServer(_ context.Context, opts registry.Options) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[opts.Identifier] = event.ServerRef{Identifier: opts.Identifier, ServerID: opts.ServerID, Region: string(opts.Region), Added: true}
	return nil
}

func (m *fakeManager) RemoveServer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.servers[id]
	delete(m.servers, id)
	return ok
}

func (m *fakeManager) SendCommand(_ context.Context, id, cmd string, wantResponse bool) (string, error) {
	if _, ok := m.GetServer(id); !ok {
		return "", fmt.Errorf("%w: %s", command.ErrUnknownServer, id)
	}
	m.mu.Lock()
	m.sent = append(m.sent, cmd)
	m.mu.Unlock()
	if wantResponse {
		return "Hostname: Test Server", nil
	}
	return "", nil
}

func (m *fakeManager) ConnectionState() socket.State { return socket.StateAuthenticated }

type fakeHistory struct{}

func (fakeHistory) Recent(server string, limit int) ([]journal.Entry, error) {
	return []journal.Entry{{ID: "1", Server: server, Kind: event.KindPlayerJoined, Payload: json.RawMessage(`{"ign":"alice"}`)}}, nil
}

const testToken = "s3cret"

func newTestRouter(t *testing.T, m Manager, bus *event.Bus) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	servers := NewServerHandler(m, fakeHistory{})
	events := NewEventHandler(bus, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TokenAuth(string(hash)))
		r.Get("/status", servers.Status)
		r.Get("/events", events.Live)
		r.Route("/servers", func(r chi.Router) {
			r.Get("/", servers.List)
			r.Post("/", servers.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", servers.Get)
				r.Delete("/", servers.Delete)
				r.Post("/command", servers.Command)
				r.Get("/events", servers.Events)
			})
		})
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenAuth(t *testing.T) {
	h := newTestRouter(t, newFakeManager(), event.NewBus(nil, 0))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + testToken, "", http.StatusOK},
		{"query", "", "?token=" + testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestEmptyHashRejects(t *testing.T) {
	h := TokenAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestServerRoutes(t *testing.T) {
	m := newFakeManager()
	h := newTestRouter(t, m, event.NewBus(nil, 0))

	if rec := do(t, h, http.MethodGet, "/api/v1/servers/main", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"identifier":"main"`) {
		t.Errorf("get = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/servers/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get unknown = %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/servers/", `{"identifier":"eu2","server_id":99,"region":"EU"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/servers/", `{"identifier":"eu2","server_id":99,"region":"EU"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/servers/", `{"bogus":true}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/servers/", "")
	var list []event.ServerRef
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Errorf("list = %s (%v)", rec.Body, err)
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/servers/eu2", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/servers/eu2", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", rec.Code)
	}
}

func TestCreateErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{rce.ErrAddDeferred, http.StatusAccepted},
		{fmt.Errorf("%w: region", rce.ErrInvalidServer), http.StatusBadRequest},
		{rce.ErrSuspended, http.StatusConflict},
		{fmt.Errorf("resolve server id: boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		m := newFakeManager()
		m.addErr = tt.err
		h := newTestRouter(t, m, event.NewBus(nil, 0))
		if rec := do(t, h, http.MethodPost, "/api/v1/servers/", `{"identifier":"x","server_id":1,"region":"US"}`); rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestCommand(t *testing.T) {
	m := newFakeManager()
	h := newTestRouter(t, m, event.NewBus(nil, 0))

	rec := do(t, h, http.MethodPost, "/api/v1/servers/main/command", `{"command":"serverinfo","response":true}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Hostname: Test Server") {
		t.Errorf("command = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/servers/nope/command", `{"command":"say hi"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown server = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/servers/main/command", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty command = %d", rec.Code)
	}
}

func TestEventsHistory(t *testing.T) {
	h := newTestRouter(t, newFakeManager(), event.NewBus(nil, 0))
	rec := do(t, h, http.MethodGet, "/api/v1/servers/main/events?limit=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"kind":"player_joined"`) {
		t.Errorf("events = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/servers/main/events?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rec.Code)
	}
}

func TestLiveEvents(t *testing.T) {
	bus := event.NewBus(nil, 0)
	srv := httptest.NewServer(newTestRouter(t, newFakeManager(), bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?token=" + testToken + "&kinds=player_joined&server=main"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// The subscription is registered after the upgrade; publish until seen.
	got := make(chan map[string]any, 1)
	go func() {
		var msg map[string]any
		if err := ws.ReadJSON(&msg); err == nil {
			got <- msg
		}
	}()
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case msg := <-got:
			if msg["kind"] != "player_joined" {
				t.Errorf("message = %v", msg)
			}
			return
		case <-tick.C:
			bus.Publish(&event.ServerRef{Identifier: "other"}, event.PlayerJoined{IGN: "bob"})
			bus.Publish(&event.ServerRef{Identifier: "main"}, event.PlayerLeft{IGN: "bob"})
			bus.Publish(&event.ServerRef{Identifier: "main"}, event.PlayerJoined{IGN: "alice"})
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
