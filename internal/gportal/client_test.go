package gportal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reedfamily/rcelink/internal/auth"
)

type staticTokens struct {
	tok auth.Token
	err error
}

func (s staticTokens) AwaitToken(context.Context, int) (auth.Token, error) {
	return s.tok, s.err
}

func newTestClient(t *testing.T, handler func(t *testing.T, req request) (int, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		status, body := handler(t, req)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(Options{
		Routes: Routes{API: srv.URL},
		Tokens: staticTokens{tok: auth.Token{AccessToken: "tok", TokenType: "Bearer"}},
	})
}

func TestResolveServerID(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, req request) (int, string) {
		if req.OperationName != "sid" || req.Variables["gameserverId"] != float64(1234567) || req.Variables["region"] != "EU" {
			t.Errorf("unexpected request %+v", req)
		}
		return http.StatusOK, `{"data":{"sid":998877}}`
	})
	sid, err := c.ResolveServerID(context.Background(), RegionEU, 1234567)
	if err != nil || sid != 998877 {
		t.Fatalf("ResolveServerID = %d, %v", sid, err)
	}
}

func TestResolveServerIDErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"graphql error", http.StatusOK, `{"errors":[{"message":"Server not found"}]}`, func(err error) bool {
			var gqlErr *GraphQLError
			return errors.As(err, &gqlErr) && gqlErr.Message == "Server not found"
		}},
		{"http error", http.StatusUnauthorized, `nope`, func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
		}},
		{"zero sid", http.StatusOK, `{"data":{"sid":null}}`, func(err error) bool {
			return errors.Is(err, ErrInvalidServerID)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(*testing.T, request) (int, string) { return tt.status, tt.body })
			_, err := c.ResolveServerID(context.Background(), RegionUS, 1)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestFetchServiceState(t *testing.T) {
	c := newTestClient(t, func(t *testing.T, req request) (int, string) {
		if req.OperationName != "ctx" || req.Variables["sid"] != float64(42) {
			t.Errorf("unexpected request %+v", req)
		}
		return http.StatusOK, `{"data":{"cfgContext":{"ns":{"service":{"currentState":{"state":"RUNNING"}}}}}}`
	})
	state, err := c.FetchServiceState(context.Background(), 42, RegionUS)
	if err != nil || state != StateRunning {
		t.Fatalf("FetchServiceState = %q, %v", state, err)
	}
}

func TestSendConsoleMessage(t *testing.T) {
	var got string
	c := newTestClient(t, func(t *testing.T, req request) (int, string) {
		got, _ = req.Variables["message"].(string)
		return http.StatusOK, `{"data":{"sendConsoleMessage":{"ok":true}}}`
	})
	c.limiter = nil
	if err := c.SendConsoleMessage(context.Background(), 42, RegionUS, "global.say hi"); err != nil {
		t.Fatalf("SendConsoleMessage: %v", err)
	}
	if got != "global.say hi" {
		t.Fatalf("message = %q", got)
	}
}

func TestTokenErrorShortCircuits(t *testing.T) {
	c := NewClient(Options{Tokens: staticTokens{err: auth.ErrNoAccessToken}})
	if _, err := c.ResolveServerID(context.Background(), RegionUS, 1); !errors.Is(err, auth.ErrNoAccessToken) {
		t.Fatalf("err = %v, want ErrNoAccessToken", err)
	}
}

func TestUnavailableMatcher(t *testing.T) {
	m, err := NewUnavailableMatcher("", "")
	if err != nil {
		t.Fatal(err)
	}
	msg := "<AioRpcError of RPC that terminated with:\n\tstatus = StatusCode.UNAVAILABLE\n\tdetails = \"failed to connect to all addresses\"\n>"
	if !m.Match(msg) {
		t.Errorf("expected match for %q", msg)
	}
	if m.Match("status = StatusCode.NOT_FOUND\n details = \"gone\"") {
		t.Error("NOT_FOUND should not match")
	}
	if _, err := NewUnavailableMatcher("no groups", ""); err == nil {
		t.Error("pattern without group should be rejected")
	}
}

func TestStartFrames(t *testing.T) {
	f := ConsoleMessagesFrame("eu-main", 42, RegionEU)
	if f.Type != FrameStart || f.ID != "eu-main" {
		t.Fatalf("frame = %+v", f)
	}
	var p startPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.OperationName != "consoleMessages" || p.Variables["sid"] != float64(42) {
		t.Fatalf("payload = %+v", p)
	}
}
