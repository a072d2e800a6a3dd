// Package command sends console commands to managed servers, queues them
// while a server is not ready and correlates responses read from the
// console stream.
package command

import (
	"sync"

	"github.com/reedfamily/rcelink/internal/clock"
)

type result struct {
	text string
	err  error
}

// Pending is a command that was sent and awaits its response line. The
// timestamp is empty until the console echoes the command.
type Pending struct {
	Server    string
	Command   string
	Timestamp string

	done  chan result
	timer *clock.Timer
}

// Table holds pending commands in submission order. Whoever removes an
// entry completes it, so each entry completes exactly once.
type Table struct {
	mu      sync.Mutex
	entries []*Pending
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(server, command string) *Pending {
	p := &Pending{Server: server, Command: command, done: make(chan result, 1)}
	t.mu.Lock()
	t.entries = append(t.entries, p)
	t.mu.Unlock()
	return p
}

// Stamp records the echo timestamp on the first unstamped entry for
// server and command. It reports whether an entry was stamped.
func (t *Table) Stamp(server, command, ts string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.entries {
		if p.Server == server && p.Command == command && p.Timestamp == "" {
			p.Timestamp = ts
			return true
		}
	}
	return false
}

// Resolve completes the first entry for server stamped with ts using line
// as its response.
func (t *Table) Resolve(server, ts, line string) (*Pending, bool) {
	t.mu.Lock()
	var found *Pending
	for i, p := range t.entries {
		if p.Server == server && p.Timestamp != "" && p.Timestamp == ts {
			found = p
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	if found == nil {
		return nil, false
	}
	found.timer.Stop()
	found.done <- result{text: line}
	return found, true
}

// Remove drops p without completing it. It reports whether p was still
// pending.
func (t *Table) Remove(p *Pending) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == p {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// expire removes p and completes it with text and err if it was still
// pending.
func (t *Table) expire(p *Pending, text string, err error) bool {
	if !t.Remove(p) {
		return false
	}
	p.timer.Stop()
	p.done <- result{text: text, err: err}
	return true
}

// setTimer attaches the timeout timer, stopping it at once if p already
// completed.
func (t *Table) setTimer(p *Pending, timer *clock.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e == p {
			p.timer = timer
			return
		}
	}
	timer.Stop()
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear completes every pending entry with err.
func (t *Table) Clear(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()
	for _, p := range entries {
		p.timer.Stop()
		p.done <- result{err: err}
	}
}
