package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
)

type fakeKeycloak struct {
	*httptest.Server
	formHTML      string
	refreshes     atomic.Int32
	rejectRefresh atomic.Bool
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	kc := &fakeKeycloak{formHTML: `<html><body><form id="kc-form-login" action="/login-actions/authenticate?session_code=xyz" method="post"></form></body></html>`}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "AUTH_SESSION_ID", Value: "s1", Path: "/"})
		fmt.Fprint(w, kc.formHTML)
	})
	mux.HandleFunc("POST /login-actions/authenticate", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("AUTH_SESSION_ID"); err != nil || c.Value != "s1" {
			http.Error(w, "no session", http.StatusBadRequest)
			return
		}
		if r.FormValue("username") != "admin@example.com" || r.FormValue("password") != "hunter2" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/en?state=1&code=abc123", http.StatusFound)
	})
	mux.HandleFunc("GET /en", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "welcome")
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue("grant_type") {
		case "authorization_code":
			if r.FormValue("code") != "abc123" || r.FormValue("client_id") != ClientID {
				http.Error(w, "bad code", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":300}`)
		case "refresh_token":
			n := kc.refreshes.Add(1)
			if kc.rejectRefresh.Load() {
				http.Error(w, "expired", http.StatusBadRequest)
				return
			}
			fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d","token_type":"Bearer","expires_in":300}`, n+1, n+1)
		default:
			http.Error(w, "unsupported", http.StatusBadRequest)
		}
	})
	kc.Server = httptest.NewServer(mux)
	t.Cleanup(kc.Close)
	return kc
}

func newTestService(t *testing.T, kc *fakeKeycloak, clk clock.Clock, password string) (*Service, *event.Subscription) {
	t.Helper()
	bus := event.NewBus(clk, 16)
	svc, err := NewService(Options{
		Email:    "admin@example.com",
		Password: password,
		LoginURL: kc.URL + "/auth",
		TokenURL: kc.URL + "/token",
		Clock:    clk,
		Reporter: event.NewReporter(bus, nil),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, bus.Subscribe(event.KindError)
}

func TestLoginAndScheduledRefresh(t *testing.T) {
	kc := newFakeKeycloak(t)
	clk := clock.Fake(time.Unix(0, 0))
	svc, _ := newTestService(t, kc, clk, "hunter2")

	if err := svc.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	tok, ok := svc.Token()
	if !ok || tok.AccessToken != "access-1" || tok.Authorization() != "Bearer access-1" {
		t.Fatalf("token = %+v", tok)
	}
	if clk.Pending() != 1 {
		t.Fatalf("refresh timer not armed, pending = %d", clk.Pending())
	}

	clk.Advance(300 * time.Second)
	tok, _ = svc.Token()
	if tok.AccessToken != "access-2" {
		t.Fatalf("after expiry token = %q, want access-2", tok.AccessToken)
	}
	if clk.Pending() != 1 {
		t.Fatalf("refresh timer not re-armed, pending = %d", clk.Pending())
	}
}

func TestLoginFailures(t *testing.T) {
	t.Run("bad credentials", func(t *testing.T) {
		kc := newFakeKeycloak(t)
		svc, errs := newTestService(t, kc, clock.Fake(time.Unix(0, 0)), "wrong")
		err := svc.Login(context.Background())
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login() = %v, want ErrInvalidCredentials", err)
		}
		if len(errs.C) != 1 {
			t.Fatalf("expected one reported error, got %d", len(errs.C))
		}
	})
	t.Run("missing form", func(t *testing.T) {
		kc := newFakeKeycloak(t)
		kc.formHTML = "<html><body>maintenance</body></html>"
		svc, _ := newTestService(t, kc, clock.Fake(time.Unix(0, 0)), "hunter2")
		if err := svc.Login(context.Background()); !errors.Is(err, ErrNoLoginURL) {
			t.Fatalf("Login() = %v, want ErrNoLoginURL", err)
		}
	})
}

func TestRefreshFailureClearsFlag(t *testing.T) {
	kc := newFakeKeycloak(t)
	clk := clock.Fake(time.Unix(0, 0))
	svc, errs := newTestService(t, kc, clk, "hunter2")
	if err := svc.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	kc.rejectRefresh.Store(true)

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should fail")
	}
	if svc.Refreshing() {
		t.Fatal("refreshing flag left set after failure")
	}
	if len(errs.C) != 1 {
		t.Fatalf("expected one reported error, got %d", len(errs.C))
	}
	if tok, _ := svc.Token(); tok.AccessToken != "access-1" {
		t.Fatalf("failed refresh replaced token: %+v", tok)
	}
}

func TestRefreshWithoutToken(t *testing.T) {
	kc := newFakeKeycloak(t)
	svc, _ := newTestService(t, kc, clock.Fake(time.Unix(0, 0)), "hunter2")
	if err := svc.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("Refresh() = %v, want ErrNoRefreshToken", err)
	}
}

func TestAwaitToken(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	svc, err := NewService(Options{Clock: clk})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AwaitToken(context.Background(), 1); !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("no token: %v", err)
	}

	svc.token = Token{AccessToken: "a", TokenType: "Bearer"}
	svc.refreshing = true

	done := make(chan error, 1)
	go func() {
		_, err := svc.AwaitToken(context.Background(), 1)
		done <- err
	}()
	clk.WaitForTimers(1)
	clk.Advance(RefreshWait)
	if err := <-done; !errors.Is(err, ErrTokenRefreshing) {
		t.Fatalf("still refreshing: %v", err)
	}

	go func() {
		_, err := svc.AwaitToken(context.Background(), 1)
		done <- err
	}()
	clk.WaitForTimers(1)
	svc.mu.Lock()
	svc.refreshing = false
	svc.mu.Unlock()
	clk.Advance(RefreshWait)
	if err := <-done; err != nil {
		t.Fatalf("after refresh: %v", err)
	}
}
