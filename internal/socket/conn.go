// Package socket owns the graphql-ws subscription socket to the control
// plane: dialing, authentication, keep-alive, frame dispatch and the
// bounded reconnect policy.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reedfamily/rcelink/internal/auth"
	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
)

const (
	MaxAttempts       = 5
	ReconnectStep     = 10 * time.Second
	UnavailableDelay  = 10 * time.Second
	KeepAliveInterval = 30 * time.Second
	DefaultTimeout    = 60 * time.Second
)

var (
	ErrNotConnected = errors.New("no websocket connection")
	ErrClosed       = errors.New("connection closed")
)

type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateOpen          State = "open"
	StateAuthenticated State = "authenticated"
	StateReconnecting  State = "reconnecting"
	StateFailed        State = "failed"
	StateClosed        State = "closed"
)

// TokenSource supplies the access token sent in connection_init.
type TokenSource interface {
	Token() (auth.Token, bool)
}

// Router receives the data frames of known subscriptions.
type Router interface {
	// Server resolves a frame id to the server it was subscribed for.
	Server(frameID string) (event.ServerRef, bool)
	ConsoleMessage(id, message string)
	ServiceState(id string, state gportal.State)
}

type Options struct {
	Routes         gportal.Routes
	Tokens         TokenSource
	Router         Router
	Unavailable    *gportal.UnavailableMatcher
	ConnectTimeout time.Duration
	Dialer         *websocket.Dialer

	// OnOpen runs in its own goroutine after the socket is authenticated.
	OnOpen func()
	// OnTeardown runs after the socket is dropped, before any reconnect.
	OnTeardown func()

	Clock    clock.Clock
	Reporter *event.Reporter
	Logger   *slog.Logger
}

type Conn struct {
	opts     Options
	dialer   *websocket.Dialer
	clock    clock.Clock
	reporter *event.Reporter
	logger   *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	ws        *websocket.Conn
	gen       uint64
	attempt   int
	state     State
	stopKA    chan struct{}
	reconnect *clock.Timer
	closed    bool
}

func New(opts Options) (*Conn, error) {
	opts.Routes = opts.Routes.WithDefaults()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultTimeout
	}
	if opts.Unavailable == nil {
		m, err := gportal.NewUnavailableMatcher("", "")
		if err != nil {
			return nil, err
		}
		opts.Unavailable = m
	}
	c := &Conn{
		opts:     opts,
		clock:    opts.Clock,
		reporter: opts.Reporter,
		logger:   opts.Logger,
		state:    StateDisconnected,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.reporter == nil {
		c.reporter = event.NewReporter(nil, c.logger)
	}

	d := websocket.DefaultDialer
	if opts.Dialer != nil {
		d = opts.Dialer
	}
	dialer := *d
	dialer.Subprotocols = []string{gportal.Subprotocol}
	dialer.HandshakeTimeout = opts.ConnectTimeout
	c.dialer = &dialer
	return c, nil
}

// Connect dials the socket and authenticates it. A failed dial schedules a
// reconnect according to the attempt count.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.attempt++
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("Connecting To Websocket")
	header := http.Header{}
	header.Set("Origin", c.opts.Routes.Origin)
	ws, _, err := c.dialer.DialContext(ctx, c.opts.Routes.Websocket, header)
	if err != nil {
		c.reporter.Report(nil, "Websocket Error: "+err.Error())
		c.mu.Lock()
		c.state = StateDisconnected
		attempt := c.attempt
		c.mu.Unlock()
		c.scheduleReconnect(attempt)
		return fmt.Errorf("dial websocket: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.ws = ws
	c.state = StateOpen
	stop := make(chan struct{})
	c.stopKA = stop
	c.mu.Unlock()

	logger := c.logger.With("session", uuid.NewString())
	logger.Debug("Websocket Connection Established")

	if tok, ok := c.opts.Tokens.Token(); ok {
		if err := c.Send(gportal.InitFrame(tok.AccessToken)); err != nil {
			c.reporter.Report(nil, "Failed To Authenticate Websocket: "+err.Error())
		}
	} else {
		c.reporter.Report(nil, "Failed To Authenticate Websocket: No Access Token!")
	}

	go c.keepAlive(stop, logger)
	go c.readLoop(ws, gen, logger)
	if c.opts.OnOpen != nil {
		go c.opts.OnOpen()
	}
	return nil
}

func (c *Conn) keepAlive(stop <-chan struct{}, logger *slog.Logger) {
	ticker := c.clock.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logger.Debug("Sending keep-alive Message")
			if err := c.Send(gportal.KeepAliveFrame()); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64, logger *slog.Logger) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			c.dropped(gen, code, reason)
			return
		}
		c.dispatch(gen, data, logger)
	}
}

// detach clears the socket of generation gen. It returns false if that
// socket was already detached.
func (c *Conn) detach(gen uint64) (*websocket.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.ws == nil {
		return nil, false
	}
	ws := c.ws
	c.ws = nil
	c.gen++
	if c.stopKA != nil {
		close(c.stopKA)
		c.stopKA = nil
	}
	c.state = StateDisconnected
	return ws, true
}

func (c *Conn) teardown(ws *websocket.Conn) {
	ws.Close()
	if c.opts.OnTeardown != nil {
		c.opts.OnTeardown()
	}
}

func (c *Conn) dropped(gen uint64, code int, reason string) {
	ws, ok := c.detach(gen)
	if !ok {
		return
	}
	c.teardown(ws)

	c.mu.Lock()
	closed, attempt := c.closed, c.attempt
	c.mu.Unlock()
	if closed {
		return
	}
	if code == websocket.CloseNormalClosure {
		c.reporter.Report(nil, "Websocket Closed: "+reason)
		return
	}
	c.reporter.Report(nil, fmt.Sprintf("Websocket Error: %s (code %d)", reason, code))
	c.scheduleReconnect(attempt)
}

func (c *Conn) scheduleReconnect(attempt int) {
	if attempt >= MaxAttempts {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		c.reporter.Report(nil, "Failed To Connect To Websocket: Too Many Attempts!")
		return
	}
	delay := time.Duration(attempt) * ReconnectStep
	c.logger.Warn("Attempting To Reconnect", "in", delay, "attempt", attempt+1, "of", MaxAttempts)
	c.reconnectAfter(delay)
}

func (c *Conn) reconnectAfter(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = StateReconnecting
	c.reconnect.Stop()
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.Connect(context.Background())
	})
}

func (c *Conn) dispatch(gen uint64, data []byte, logger *slog.Logger) {
	var f gportal.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reporter.Report(nil, "Failed To Handle Message: "+err.Error())
		return
	}
	if f.Type == gportal.FrameKeepAlive {
		return
	}
	logger.Debug("Received Message", "type", f.Type, "id", f.ID)

	switch f.Type {
	case gportal.FrameError:
		var p gportal.ErrorPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.reporter.Report(nil, "Websocket Error: "+string(f.Payload))
		} else {
			c.reporter.Report(nil, "Websocket Error: "+p.Message)
		}
	case gportal.FrameAck:
		c.mu.Lock()
		c.attempt = 0
		if gen == c.gen {
			c.state = StateAuthenticated
		}
		c.mu.Unlock()
		logger.Debug("Websocket Authenticated Successfully")
	case gportal.FrameData:
		c.handleData(gen, f)
	}
}

func (c *Conn) handleData(gen uint64, f gportal.Frame) {
	router := c.opts.Router
	ref, ok := router.Server(f.ID)
	if !ok {
		c.reporter.Report(nil, "Failed To Handle Message: No Request Found For ID "+f.ID)
		return
	}

	var p gportal.DataPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		c.reporter.Report(&ref, "Failed To Handle Message: "+err.Error())
		return
	}

	if len(p.Errors) > 0 {
		msg := p.Errors[0].Message
		if c.opts.Unavailable.Match(msg) {
			c.reporter.Report(&ref, "AioRpcError: Server Is Unavailable")
			if ws, ok := c.detach(gen); ok {
				c.teardown(ws)
				c.logger.Warn("AioRpcError: Will Attempt To Reconnect", "in", UnavailableDelay)
				c.reconnectAfter(UnavailableDelay)
			}
		}
		c.reporter.Report(&ref, msg)
		return
	}

	switch {
	case p.Data.ConsoleMessages != nil:
		router.ConsoleMessage(ref.Identifier, p.Data.ConsoleMessages.Message)
	case p.Data.ServiceState != nil:
		router.ServiceState(ref.Identifier, p.Data.ServiceState.State)
	}
}

// Send writes one frame. Writes are serialized.
func (c *Conn) Send(f gportal.Frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(f)
}

// Open reports whether a socket is currently attached.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the consecutive failed connection attempts.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Close sends a normal close, tears the socket down and never reconnects.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.reconnect.Stop()
	c.reconnect = nil
	gen := c.gen
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if ws, ok := c.detach(gen); ok {
			c.teardown(ws)
		}
	}
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return nil
}
