// Package auth keeps a valid G-Portal access token: it performs the
// Keycloak form login, exchanges the authorization code and refreshes the
// token before it expires.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
)

const (
	DefaultLoginURL    = "https://auth.g-portal.com/auth/realms/master/protocol/openid-connect/auth?redirect_uri=https%3A%2F%2Fwww.g-portal.com%2Fen&client_id=website&response_type=code&scope=openid"
	DefaultTokenURL    = "https://auth.g-portal.com/auth/realms/master/protocol/openid-connect/token"
	DefaultRedirectURI = "https://www.g-portal.com/en"
	ClientID           = "website"

	// RefreshWait is how long callers wait between checks while a refresh
	// is in flight.
	RefreshWait = 3 * time.Second
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoLoginURL         = errors.New("no login url found")
	ErrNoCode             = errors.New("no code found")
	ErrNoAccessToken      = errors.New("no access token")
	ErrNoRefreshToken     = errors.New("no refresh token")
	ErrTokenRefreshing    = errors.New("token is refreshing")
)

// Token is replaced wholesale on every login or refresh.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Authorization returns the Authorization header value for the token.
func (t Token) Authorization() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.AccessToken
}

type Options struct {
	Email    string
	Password string

	LoginURL    string
	TokenURL    string
	RedirectURI string

	HTTPClient *http.Client
	Clock      clock.Clock
	Reporter   *event.Reporter
	Logger     *slog.Logger
}

type Service struct {
	email    string
	password string

	loginURL    string
	tokenURL    string
	redirectURI string

	client   *http.Client
	clock    clock.Clock
	reporter *event.Reporter
	logger   *slog.Logger

	mu         sync.Mutex
	token      Token
	refreshing bool
	timer      *clock.Timer
	closed     bool
}

func NewService(opts Options) (*Service, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c := *client
		c.Jar = jar
		client = &c
	}

	s := &Service{
		email:       opts.Email,
		password:    opts.Password,
		loginURL:    orDefault(opts.LoginURL, DefaultLoginURL),
		tokenURL:    orDefault(opts.TokenURL, DefaultTokenURL),
		redirectURI: orDefault(opts.RedirectURI, DefaultRedirectURI),
		client:      client,
		clock:       opts.Clock,
		reporter:    opts.Reporter,
		logger:      opts.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.reporter == nil {
		s.reporter = event.NewReporter(nil, s.logger)
	}
	return s, nil
}

// Login runs the full credential flow. Failures are reported and returned.
func (s *Service) Login(ctx context.Context) error {
	tok, err := s.login(ctx)
	if err != nil {
		s.reporter.Report(nil, "Failed To Login: "+err.Error())
		return fmt.Errorf("login: %w", err)
	}
	s.store(tok)
	s.logger.Debug("Logged In Successfully")
	return nil
}

func (s *Service) login(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.loginURL, nil)
	if err != nil {
		return Token{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Token{}, err
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	resp.Body.Close()
	if err != nil {
		return Token{}, fmt.Errorf("parse login page: %w", err)
	}
	action, ok := doc.Find("#kc-form-login").Attr("action")
	if !ok || action == "" {
		return Token{}, ErrNoLoginURL
	}
	actionURL, err := resp.Request.URL.Parse(action)
	if err != nil {
		return Token{}, fmt.Errorf("login url: %w", err)
	}

	form := url.Values{
		"username":     {s.email},
		"password":     {s.password},
		"credentialId": {""},
	}
	resp, err = s.postForm(ctx, actionURL.String(), form)
	if err != nil {
		return Token{}, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Debug("credential submit rejected", "status", resp.StatusCode)
		return Token{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, http.StatusText(resp.StatusCode))
	}

	code := resp.Request.URL.Query().Get("code")
	if code == "" {
		return Token{}, ErrNoCode
	}

	return s.exchange(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {ClientID},
		"code":         {code},
		"redirect_uri": {s.redirectURI},
	})
}

// Refresh exchanges the refresh token for a new token. The refreshing flag
// is cleared whatever the outcome.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.refreshing = true
	refresh := s.token.RefreshToken
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	s.logger.Debug("Attempting To Refresh Token")
	if refresh == "" {
		s.reporter.Report(nil, "Failed To Refresh Token: No Refresh Token!")
		return ErrNoRefreshToken
	}

	tok, err := s.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {ClientID},
		"refresh_token": {refresh},
	})
	if err != nil {
		s.reporter.Report(nil, "Failed To Refresh Token: "+err.Error())
		return fmt.Errorf("refresh token: %w", err)
	}
	s.store(tok)
	s.logger.Debug("Token Successfully Refreshed")
	return nil
}

func (s *Service) exchange(ctx context.Context, form url.Values) (Token, error) {
	resp, err := s.postForm(ctx, s.tokenURL, form)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, fmt.Errorf("token endpoint: %s", http.StatusText(resp.StatusCode))
	}
	var tok Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return Token{}, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return Token{}, ErrNoAccessToken
	}
	return tok, nil
}

func (s *Service) postForm(ctx context.Context, target string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.client.Do(req)
}

// store replaces the token and re-arms the refresh timer for its expiry.
func (s *Service) store(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.timer.Stop()
	s.timer = nil
	if s.closed || tok.ExpiresIn <= 0 {
		return
	}
	s.timer = s.clock.AfterFunc(time.Duration(tok.ExpiresIn)*time.Second, func() {
		s.Refresh(context.Background())
	})
}

// Token returns the current token and whether an access token is held.
func (s *Service) Token() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token.AccessToken != ""
}

func (s *Service) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

// AwaitToken returns the current token, waiting RefreshWait between checks
// while a refresh is in flight, at most attempts times.
func (s *Service) AwaitToken(ctx context.Context, attempts int) (Token, error) {
	for i := 0; ; i++ {
		s.mu.Lock()
		tok, refreshing := s.token, s.refreshing
		s.mu.Unlock()

		if !refreshing {
			if tok.AccessToken == "" {
				return Token{}, ErrNoAccessToken
			}
			return tok, nil
		}
		if i >= attempts {
			return Token{}, ErrTokenRefreshing
		}
		s.logger.Warn("Token Is Refreshing, Retrying In A Few Seconds")
		select {
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case <-s.clock.After(RefreshWait):
		}
	}
}

// Close stops the refresh timer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.timer.Stop()
	s.timer = nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
