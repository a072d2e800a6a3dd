// Package rce ties the authentication service, the control-plane client,
// the subscription socket and the per-server machinery into one manager.
package rce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/reedfamily/rcelink/internal/auth"
	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/command"
	"github.com/reedfamily/rcelink/internal/console"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
	"github.com/reedfamily/rcelink/internal/registry"
	"github.com/reedfamily/rcelink/internal/socket"
)

const (
	AuthRetry = 60 * time.Second
	AddRetry  = 5 * time.Second
	// PollTimeout bounds one polling command send.
	PollTimeout = 30 * time.Second
)

var (
	ErrAddDeferred   = errors.New("no websocket connection, add retried later")
	ErrSuspended     = errors.New("server is suspended")
	ErrInvalidServer = errors.New("invalid server options")
	ErrClosed        = errors.New("manager closed")
)

type Options struct {
	Email    string
	Password string
	Servers  []registry.Options

	Routes      gportal.Routes
	LoginURL    string
	TokenURL    string
	RedirectURI string

	ConnectTimeout     time.Duration
	CommandRate        float64
	CommandBurst       int
	UnavailablePattern string
	UnavailableStatus  string

	HTTPClient *http.Client
	// Bus receives every event. A private bus is created when nil.
	Bus    *event.Bus
	Clock  clock.Clock
	Logger *slog.Logger
}

type Manager struct {
	bus        *event.Bus
	reporter   *event.Reporter
	clock      clock.Clock
	logger     *slog.Logger
	auth       *auth.Service
	client     *gportal.Client
	conn       *socket.Conn
	registry   *registry.Registry
	dispatcher *command.Dispatcher
	parser     *console.Parser

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	authTimer *clock.Timer
	retries   map[string]*clock.Timer
	closed    bool
}

func New(opts Options) (*Manager, error) {
	if opts.Email == "" || opts.Password == "" {
		return nil, auth.ErrInvalidCredentials
	}
	m := &Manager{
		bus:     opts.Bus,
		clock:   opts.Clock,
		logger:  opts.Logger,
		retries: make(map[string]*clock.Timer),
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.bus == nil {
		m.bus = event.NewBus(m.clock, 0)
	}
	m.reporter = event.NewReporter(m.bus, m.logger)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	var err error
	m.auth, err = auth.NewService(auth.Options{
		Email:       opts.Email,
		Password:    opts.Password,
		LoginURL:    opts.LoginURL,
		TokenURL:    opts.TokenURL,
		RedirectURI: opts.RedirectURI,
		HTTPClient:  opts.HTTPClient,
		Clock:       m.clock,
		Reporter:    m.reporter,
		Logger:      m.logger.With("component", "auth"),
	})
	if err != nil {
		return nil, err
	}

	m.client = gportal.NewClient(gportal.Options{
		Routes:       opts.Routes,
		HTTPClient:   opts.HTTPClient,
		Tokens:       m.auth,
		CommandRate:  opts.CommandRate,
		CommandBurst: opts.CommandBurst,
		Logger:       m.logger.With("component", "gportal"),
	})

	unavailable, err := gportal.NewUnavailableMatcher(opts.UnavailablePattern, opts.UnavailableStatus)
	if err != nil {
		return nil, err
	}

	m.registry = registry.New(m.clock, registry.Hooks{
		Ready: m.onReady,
		Poll:  m.poll,
	}, m.logger.With("component", "registry"))

	m.conn, err = socket.New(socket.Options{
		Routes:         m.client.Routes(),
		Tokens:         m.auth,
		Router:         m,
		Unavailable:    unavailable,
		ConnectTimeout: opts.ConnectTimeout,
		OnOpen:         m.onOpen,
		OnTeardown:     m.onTeardown,
		Clock:          m.clock,
		Reporter:       m.reporter,
		Logger:         m.logger.With("component", "socket"),
	})
	if err != nil {
		return nil, err
	}

	m.dispatcher = command.NewDispatcher(command.Options{
		Servers:  m.registry,
		Sender:   m.client,
		Conn:     m.conn,
		Clock:    m.clock,
		Reporter: m.reporter,
		Logger:   m.logger.With("component", "command"),
	})
	m.parser = console.NewParser(m.registry, m.dispatcher.Table(), m.bus, m.logger.With("component", "console"))

	for _, s := range opts.Servers {
		if err := validate(s); err != nil {
			return nil, err
		}
		m.registry.Register(s)
	}
	return m, nil
}

func validate(opts registry.Options) error {
	switch {
	case opts.Identifier == "":
		return fmt.Errorf("%w: empty identifier", ErrInvalidServer)
	case opts.ServerID <= 0:
		return fmt.Errorf("%w: %s: server id must be positive", ErrInvalidServer, opts.Identifier)
	case !opts.Region.Valid():
		return fmt.Errorf("%w: %s: region %q", ErrInvalidServer, opts.Identifier, opts.Region)
	case opts.RefreshPlayers < 0:
		return fmt.Errorf("%w: %s: negative player refresh", ErrInvalidServer, opts.Identifier)
	}
	return nil
}

// Init logs in and opens the subscription socket. Only a failed login is
// returned; a failed authentication is retried in the background.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.auth.Login(ctx); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}
	m.authenticate(ctx)
	return nil
}

func (m *Manager) authenticate(ctx context.Context) {
	m.logger.Debug("Attempting To Authenticate")
	if err := m.auth.Refresh(ctx); err != nil {
		m.reporter.Report(nil, "Failed to authenticate")
		m.mu.Lock()
		if !m.closed {
			m.authTimer = m.clock.AfterFunc(AuthRetry, func() { m.authenticate(m.ctx) })
		}
		m.mu.Unlock()
		return
	}
	m.logger.Info("Successfully Authenticated")
	// Dial failures schedule their own reconnect.
	m.conn.Connect(ctx)
}

// Close stops every timer, closes the socket and fails outstanding
// commands. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.authTimer.Stop()
	for id, t := range m.retries {
		t.Stop()
		delete(m.retries, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.conn.Close()
	m.auth.Close()
	m.registry.Reset()
	m.dispatcher.Reset(ErrClosed)
	m.logger.Info("Manager Closed Successfully")
	return nil
}

// AddServer resolves the server and subscribes to its console and service
// state. Without an open socket the add is retried after AddRetry and
// ErrAddDeferred is returned.
func (m *Manager) AddServer(ctx context.Context, opts registry.Options) error {
	if err := validate(opts); err != nil {
		return err
	}
	ref := &event.ServerRef{Identifier: opts.Identifier, ServerID: opts.ServerID, Region: string(opts.Region)}
	m.logger.Debug("Adding Server", "server", opts.Identifier)

	sid, err := m.client.ResolveServerID(ctx, opts.Region, opts.ServerID)
	if err != nil {
		m.reporter.Report(ref, fmt.Sprintf("[%s] Failed To Add Server: No Server ID Found!", opts.Identifier))
		return fmt.Errorf("resolve server id: %w", err)
	}

	state, err := m.client.FetchServiceState(ctx, sid, opts.Region)
	if err != nil {
		m.reporter.Report(ref, fmt.Sprintf("[%s] Failed To Add Server: No Current State Found!", opts.Identifier))
		return fmt.Errorf("fetch service state: %w", err)
	}
	m.logger.Debug("Current Service State", "server", opts.Identifier, "state", state)
	if state == gportal.StateSuspended {
		m.reporter.Report(ref, fmt.Sprintf("[%s] Failed To Add Server: Server Is Suspended!", opts.Identifier))
		return ErrSuspended
	}

	if !m.conn.Open() {
		m.registry.Register(opts)
		m.logger.Warn("Failed To Add Server: No Websocket Connection, Retrying", "server", opts.Identifier, "in", AddRetry)
		m.deferAdd(opts)
		return ErrAddDeferred
	}

	m.registry.Insert(opts, sid, state)
	if err := m.conn.Send(gportal.ConsoleMessagesFrame(opts.Identifier, sid, opts.Region)); err != nil {
		m.reporter.Report(ref, fmt.Sprintf("[%s] Failed To Add Server: %v", opts.Identifier, err))
		return err
	}
	if err := m.conn.Send(gportal.ServiceStateFrame(opts.Identifier, sid, opts.Region)); err != nil {
		m.reporter.Report(ref, fmt.Sprintf("[%s] Failed To Add Server: %v", opts.Identifier, err))
		return err
	}

	if opts.RefreshPlayers > 0 {
		go m.dispatcher.Send(m.ctx, opts.Identifier, "Users", false)
	}
	if state == gportal.StateRunning {
		m.registry.MarkReady(opts.Identifier)
	}
	m.logger.Info("Server Added", "server", opts.Identifier, "sid", sid, "state", state)
	return nil
}

func (m *Manager) deferAdd(opts registry.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.retries[opts.Identifier].Stop()
	m.retries[opts.Identifier] = m.clock.AfterFunc(AddRetry, func() {
		m.mu.Lock()
		delete(m.retries, opts.Identifier)
		m.mu.Unlock()
		// The open hook may have added it in the meantime.
		if ref, ok := m.registry.Snapshot(opts.Identifier); ok && ref.Added {
			return
		}
		m.AddServer(m.ctx, opts)
	})
}

// RemoveServer forgets the server and cancels its polling and pending add.
func (m *Manager) RemoveServer(id string) bool {
	m.mu.Lock()
	m.retries[id].Stop()
	delete(m.retries, id)
	m.mu.Unlock()

	if !m.registry.Remove(id) {
		return false
	}
	m.logger.Info("Server Was Successfully Removed", "server", id)
	return true
}

func (m *Manager) GetServer(id string) (event.ServerRef, bool) {
	return m.registry.Snapshot(id)
}

func (m *Manager) Servers() []event.ServerRef {
	return m.registry.Snapshots()
}

// SendCommand runs a console command on the server. See command.Dispatcher.Send.
func (m *Manager) SendCommand(ctx context.Context, id, cmd string, wantResponse bool) (string, error) {
	return m.dispatcher.Send(ctx, id, cmd, wantResponse)
}

func (m *Manager) Subscribe(kinds ...event.Kind) *event.Subscription {
	return m.bus.Subscribe(kinds...)
}

func (m *Manager) Unsubscribe(sub *event.Subscription) {
	m.bus.Unsubscribe(sub)
}

func (m *Manager) Bus() *event.Bus { return m.bus }

// ConnectionState reports the subscription socket state.
func (m *Manager) ConnectionState() socket.State { return m.conn.State() }

// Server implements socket.Router.
func (m *Manager) Server(frameID string) (event.ServerRef, bool) {
	sub, ok := m.registry.Subscription(frameID)
	if !ok {
		return event.ServerRef{}, false
	}
	return m.registry.Snapshot(sub.Identifier)
}

// ConsoleMessage implements socket.Router.
func (m *Manager) ConsoleMessage(id, message string) {
	m.parser.HandleMessage(id, message)
}

// ServiceState implements socket.Router.
func (m *Manager) ServiceState(id string, state gportal.State) {
	t, ok := m.registry.HandleServiceState(id, state)
	if !ok {
		return
	}
	m.bus.Publish(&t.Server, event.ServiceState{State: string(t.State)})
	if t.Suspended() {
		m.logger.Warn("Server Is Suspended, Removing", "server", id)
		m.RemoveServer(id)
	}
}

func (m *Manager) onReady(id string) {
	m.dispatcher.Flush(id)
}

func (m *Manager) poll(id, cmd string) {
	ctx, cancel := context.WithTimeout(m.ctx, PollTimeout)
	defer cancel()
	m.dispatcher.Send(ctx, id, cmd, false)
}

func (m *Manager) onOpen() {
	for _, opts := range m.registry.Unadded() {
		m.AddServer(m.ctx, opts)
	}
}

func (m *Manager) onTeardown() {
	m.registry.Reset()
	m.dispatcher.Reset(command.ErrConnectionReset)
}
