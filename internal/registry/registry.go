// Package registry tracks the managed servers: their resolved ids, service
// state, readiness, population, RF broadcasts, transient flags and the
// polling tasks tied to each server's lifetime.
package registry

import (
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
)

var ErrUnknownServer = errors.New("unknown server")

// Flag names used by the console parser.
const (
	FlagInitRefresh = "init-refresh"
	FlagBradley     = "bradley"
	FlagHeli        = "heli"
)

// Options describe a server as supplied by the caller.
type Options struct {
	Identifier string
	ServerID   int
	Region     gportal.Region
	// RefreshPlayers is the population polling interval in minutes.
	RefreshPlayers int
	RFBroadcasting bool
	HeliFeeds      bool
	BradFeeds      bool
}

// Subscription ties a websocket frame id back to a server.
type Subscription struct {
	Identifier   string
	Region       gportal.Region
	TrueServerID int
}

// Transition describes the effect of a service-state update.
type Transition struct {
	Server        event.ServerRef
	Previous      gportal.State
	State         gportal.State
	BecameReady   bool
	BecameUnready bool
}

// Suspended reports whether the server must now be removed.
func (t Transition) Suspended() bool { return t.State == gportal.StateSuspended }

// Hooks are called without the registry lock held.
type Hooks struct {
	// Ready runs after a server becomes ready.
	Ready func(id string)
	// Poll runs for every polling task tick.
	Poll func(id, command string)
}

type server struct {
	opts         Options
	trueID       int
	state        gportal.State
	ready        bool
	added        bool
	players      []string
	frequencies  []int
	flags        map[string]*clock.Timer
	tasks        []*task
	pollsRunning bool
}

type Registry struct {
	clock  clock.Clock
	hooks  Hooks
	logger *slog.Logger

	mu            sync.Mutex
	servers       map[string]*server
	subscriptions map[string]Subscription
}

func New(clk clock.Clock, hooks Hooks, logger *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clock:         clk,
		hooks:         hooks,
		logger:        logger,
		servers:       make(map[string]*server),
		subscriptions: make(map[string]Subscription),
	}
}

func newServer(opts Options) *server {
	return &server{opts: opts, state: gportal.StateUnknown, flags: make(map[string]*clock.Timer)}
}

// Register records a configured server that has not been added yet.
func (r *Registry) Register(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[opts.Identifier]; ok {
		return
	}
	r.servers[opts.Identifier] = newServer(opts)
}

// Insert creates or replaces the entry for a resolved server, records its
// subscription and starts its polling tasks.
func (r *Registry) Insert(opts Options, trueID int, state gportal.State) event.ServerRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.servers[opts.Identifier]; ok {
		old.stopTasks()
		old.clearFlags()
	}
	s := newServer(opts)
	s.trueID = trueID
	s.state = state
	s.added = true
	r.servers[opts.Identifier] = s
	r.subscriptions[opts.Identifier] = Subscription{
		Identifier:   opts.Identifier,
		Region:       opts.Region,
		TrueServerID: trueID,
	}
	r.startTasks(s)
	return s.snapshot()
}

// Remove cancels the server's polling tasks and forgets it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return false
	}
	s.stopTasks()
	s.clearFlags()
	delete(r.servers, id)
	delete(r.subscriptions, id)
	return true
}

// Reset drops every connection-scoped fact: polling tasks, population,
// resolved ids and subscriptions. Entries stay registered so they are added
// again on the next connection.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.servers {
		s.stopTasks()
		s.players = nil
		s.added = false
		s.ready = false
		s.trueID = 0
	}
	clear(r.subscriptions)
}

func (r *Registry) Subscription(frameID string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptions[frameID]
	return sub, ok
}

func (r *Registry) Snapshot(id string) (event.ServerRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return event.ServerRef{}, false
	}
	return s.snapshot(), true
}

// Snapshots returns every server ordered by identifier.
func (r *Registry) Snapshots() []event.ServerRef {
	r.mu.Lock()
	out := make([]event.ServerRef, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s.snapshot())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Unadded returns the options of every registered server that has no live
// subscription.
func (r *Registry) Unadded() []Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Options
	for _, s := range r.servers {
		if !s.added {
			out = append(out, s.opts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// HandleServiceState applies a service-state observation. It returns false
// when the server is unknown or the state did not change.
func (r *Registry) HandleServiceState(id string, state gportal.State) (Transition, bool) {
	r.mu.Lock()
	s, ok := r.servers[id]
	if !ok || s.state == state {
		r.mu.Unlock()
		return Transition{}, false
	}
	t := Transition{Previous: s.state, State: state}
	s.state = state

	switch {
	case state == gportal.StateRunning && !s.ready:
		s.ready = true
		t.BecameReady = true
		r.startTasks(s)
	case state == gportal.StateStopped && s.ready:
		s.ready = false
		t.BecameUnready = true
		s.stopTasks()
	}
	t.Server = s.snapshot()
	r.mu.Unlock()

	if t.BecameReady {
		r.logger.Info("Server Is Ready", "server", id)
		r.ready(id)
	}
	if t.BecameUnready {
		r.logger.Info("Server Is Not Ready", "server", id)
	}
	return t, true
}

// MarkReady marks an added server ready, as done when it is already
// RUNNING at registration.
func (r *Registry) MarkReady(id string) bool {
	r.mu.Lock()
	s, ok := r.servers[id]
	if !ok || s.ready {
		r.mu.Unlock()
		return false
	}
	s.ready = true
	r.startTasks(s)
	r.mu.Unlock()

	r.logger.Info("Server Is Ready", "server", id)
	r.ready(id)
	return true
}

func (r *Registry) ready(id string) {
	if r.hooks.Ready != nil {
		r.hooks.Ready(id)
	}
}

// UpdatePopulation replaces the player list. first is true for the first
// snapshot seen for the server, whose diff only seeds state.
func (r *Registry) UpdatePopulation(id string, players []string) (joined, left []string, first bool, ref event.ServerRef, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return nil, nil, false, event.ServerRef{}, false
	}
	joined, left = diff(s.players, players)
	_, seeded := s.flags[FlagInitRefresh]
	if !seeded {
		s.flags[FlagInitRefresh] = nil
	}
	s.players = slices.Clone(players)
	return joined, left, !seeded, s.snapshot(), true
}

// UpdateBroadcasts reconciles the active RF frequencies with a fresh
// listing. lost holds frequencies no longer listed, received those newly
// listed, in listing order.
func (r *Registry) UpdateBroadcasts(id string, listed []int) (lost, received []int, ref event.ServerRef, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return nil, nil, event.ServerRef{}, false
	}
	var active []int
	for _, f := range s.frequencies {
		if slices.Contains(listed, f) {
			active = append(active, f)
		} else {
			lost = append(lost, f)
		}
	}
	for _, f := range listed {
		if !slices.Contains(active, f) {
			active = append(active, f)
			received = append(received, f)
		}
	}
	s.frequencies = active
	return lost, received, s.snapshot(), true
}

// SetFlag sets a transient flag that expires after ttl, or never when ttl
// is zero. It returns false if the flag was already set.
func (r *Registry) SetFlag(id, flag string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return false
	}
	if _, set := s.flags[flag]; set {
		return false
	}
	var timer *clock.Timer
	if ttl > 0 {
		timer = r.clock.AfterFunc(ttl, func() { r.expireFlag(s, flag) })
	}
	s.flags[flag] = timer
	return true
}

func (r *Registry) expireFlag(s *server, flag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(s.flags, flag)
}

func (r *Registry) HasFlag(id, flag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return false
	}
	_, set := s.flags[flag]
	return set
}

func (s *server) clearFlags() {
	for name, t := range s.flags {
		t.Stop()
		delete(s.flags, name)
	}
}

func (s *server) snapshot() event.ServerRef {
	return event.ServerRef{
		Identifier:   s.opts.Identifier,
		ServerID:     s.opts.ServerID,
		TrueServerID: s.trueID,
		Region:       string(s.opts.Region),
		State:        string(s.state),
		Ready:        s.ready,
		Added:        s.added,
		Players:      slices.Clone(s.players),
		Frequencies:  slices.Clone(s.frequencies),
	}
}

func diff(prev, next []string) (joined, left []string) {
	for _, p := range next {
		if !slices.Contains(prev, p) {
			joined = append(joined, p)
		}
	}
	for _, p := range prev {
		if !slices.Contains(next, p) {
			left = append(left, p)
		}
	}
	return joined, left
}
