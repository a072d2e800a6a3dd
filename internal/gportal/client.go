package gportal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reedfamily/rcelink/internal/auth"
)

// Token wait budgets, in RefreshWait steps.
const (
	lookupTokenAttempts = 1
	sendTokenAttempts   = 5
)

// TokenSource hands out the current access token, waiting out an
// in-flight refresh.
type TokenSource interface {
	AwaitToken(ctx context.Context, attempts int) (auth.Token, error)
}

type Options struct {
	Routes     Routes
	HTTPClient *http.Client
	Tokens     TokenSource
	// CommandRate caps console messages per second. Zero means no cap.
	CommandRate  float64
	CommandBurst int
	Logger       *slog.Logger
}

type Client struct {
	routes  Routes
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(opts Options) *Client {
	c := &Client{
		routes: opts.Routes.WithDefaults(),
		http:   opts.HTTPClient,
		tokens: opts.Tokens,
		logger: opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if opts.CommandRate > 0 {
		burst := opts.CommandBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.CommandRate), burst)
	}
	return c
}

func (c *Client) Routes() Routes { return c.routes }

type request struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// ResolveServerID maps the public game-server id to the control plane's
// internal id.
func (c *Client) ResolveServerID(ctx context.Context, region Region, serverID int) (int, error) {
	var out struct {
		SID int `json:"sid"`
	}
	err := c.do(ctx, lookupTokenAttempts, request{
		OperationName: "sid",
		Variables:     map[string]any{"gameserverId": serverID, "region": region},
		Query:         sidQuery,
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("resolve server id: %w", err)
	}
	if out.SID == 0 {
		return 0, ErrInvalidServerID
	}
	return out.SID, nil
}

// FetchServiceState reads the current service state of a resolved server.
func (c *Client) FetchServiceState(ctx context.Context, sid int, region Region) (State, error) {
	var out struct {
		CfgContext struct {
			NS struct {
				Service struct {
					CurrentState struct {
						State State `json:"state"`
					} `json:"currentState"`
				} `json:"service"`
			} `json:"ns"`
		} `json:"cfgContext"`
	}
	err := c.do(ctx, lookupTokenAttempts, request{
		OperationName: "ctx",
		Variables:     map[string]any{"sid": sid, "region": region},
		Query:         ctxQuery,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("fetch service state: %w", err)
	}
	state := out.CfgContext.NS.Service.CurrentState.State
	if state == "" {
		return "", fmt.Errorf("fetch service state: no current state")
	}
	return state, nil
}

// SendConsoleMessage runs a console command on a resolved server.
func (c *Client) SendConsoleMessage(ctx context.Context, sid int, region Region, message string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send console message: %w", err)
		}
	}
	var out struct {
		SendConsoleMessage struct {
			OK bool `json:"ok"`
		} `json:"sendConsoleMessage"`
	}
	err := c.do(ctx, sendTokenAttempts, request{
		OperationName: "sendConsoleMessage",
		Variables:     map[string]any{"sid": sid, "region": region, "message": message},
		Query:         sendConsoleMessageMutation,
	}, &out)
	if err != nil {
		return fmt.Errorf("send console message: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, attempts int, body request, out any) error {
	tok, err := c.tokens.AwaitToken(ctx, attempts)
	if err != nil {
		return err
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.routes.API, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", tok.Authorization())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		c.logger.Debug("api request failed", "operation", body.OperationName, "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(r.Errors) > 0 {
		return &r.Errors[0]
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}
