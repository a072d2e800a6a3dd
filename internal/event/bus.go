package event

import (
	"log/slog"
	"sync"

	"github.com/reedfamily/rcelink/internal/clock"
)

// DefaultBuffer is the channel capacity of a subscription when the bus is
// created with a non-positive buffer.
const DefaultBuffer = 64

// Subscription receives the events it was registered for on C. C is closed
// by Unsubscribe or Close.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	kinds map[Kind]bool
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus fans published events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	clock  clock.Clock
	buffer int

	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

func NewBus(clk clock.Clock, buffer int) *Bus {
	if clk == nil {
		clk = clock.Real()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{clock: clk, buffer: buffer}
}

// Subscribe registers for the given kinds, or for every kind when none are
// given.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, kinds: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish stamps the event and delivers it to every interested subscriber.
func (b *Bus) Publish(server *ServerRef, p Payload) {
	ev := Event{Server: server, Payload: p, At: b.clock.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(ev.Kind()) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	b.closed = true
}

// Reporter is the single error channel used by every component: each report
// becomes an Error event and an error log record.
type Reporter struct {
	bus    *Bus
	logger *slog.Logger
}

func NewReporter(bus *Bus, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{bus: bus, logger: logger}
}

// Report publishes msg as an Error event for server, which may be nil.
func (r *Reporter) Report(server *ServerRef, msg string) {
	if server != nil {
		r.logger.Error(msg, "server", server.Identifier)
	} else {
		r.logger.Error(msg)
	}
	if r.bus != nil {
		r.bus.Publish(server, Error{Error: msg})
	}
}
