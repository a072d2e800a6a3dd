package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
)

// ResponseTimeout bounds how long a command waits for its response line.
const ResponseTimeout = 3 * time.Second

var (
	ErrUnknownServer   = errors.New("no server found")
	ErrNotConnected    = errors.New("no websocket connection")
	ErrConnectionReset = errors.New("connection reset")
)

// Servers looks up the current view of a managed server.
type Servers interface {
	Snapshot(id string) (event.ServerRef, bool)
}

// Sender delivers a console command to the control plane.
type Sender interface {
	SendConsoleMessage(ctx context.Context, sid int, region gportal.Region, message string) error
}

// Connection reports whether the subscription socket is open. Responses
// arrive on it, so commands are refused while it is down.
type Connection interface {
	Open() bool
}

type queued struct {
	server       string
	command      string
	wantResponse bool
	done         chan result
}

type Options struct {
	Servers  Servers
	Sender   Sender
	Conn     Connection
	Table    *Table
	Clock    clock.Clock
	Reporter *event.Reporter
	Logger   *slog.Logger
}

type Dispatcher struct {
	servers  Servers
	sender   Sender
	conn     Connection
	table    *Table
	clock    clock.Clock
	reporter *event.Reporter
	logger   *slog.Logger

	mu    sync.Mutex
	queue []*queued
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		servers:  opts.Servers,
		sender:   opts.Sender,
		conn:     opts.Conn,
		table:    opts.Table,
		clock:    opts.Clock,
		reporter: opts.Reporter,
		logger:   opts.Logger,
	}
	if d.table == nil {
		d.table = NewTable()
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.reporter == nil {
		d.reporter = event.NewReporter(nil, d.logger)
	}
	return d
}

func (d *Dispatcher) Table() *Table { return d.table }

// Send runs command on the server. A ready server gets it immediately;
// otherwise it waits in the queue until the server becomes ready or ctx
// ends. With wantResponse the console response line is returned, or ""
// if none arrives within ResponseTimeout.
func (d *Dispatcher) Send(ctx context.Context, id, command string, wantResponse bool) (string, error) {
	ref, ok := d.servers.Snapshot(id)
	if !ok {
		d.reporter.Report(nil, fmt.Sprintf("[%s] Failed To Send Command: No Server Found For ID %s", id, id))
		return "", fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}

	if ref.Ready {
		d.logger.Debug("Server Is Ready, Sending Command Immediately", "server", id, "command", command)
		wait := d.start(ctx, ref, command, wantResponse)
		return wait(ctx)
	}

	d.logger.Debug("Server Is Not Ready, Adding Command To Queue", "server", id, "command", command)
	q := &queued{server: id, command: command, wantResponse: wantResponse, done: make(chan result, 1)}
	d.mu.Lock()
	d.queue = append(d.queue, q)
	d.mu.Unlock()

	// The server may have become ready between the snapshot and the append.
	if ref, ok := d.servers.Snapshot(id); ok && ref.Ready {
		d.Flush(id)
	}

	select {
	case r := <-q.done:
		return r.text, r.err
	case <-ctx.Done():
		if d.withdraw(q) {
			return "", ctx.Err()
		}
		r := <-q.done
		return r.text, r.err
	}
}

func (d *Dispatcher) withdraw(q *queued) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.queue {
		if e == q {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Flush dispatches the server's queued commands. Sends happen one after
// another in submission order; responses are awaited concurrently.
func (d *Dispatcher) Flush(id string) {
	d.mu.Lock()
	var drained []*queued
	rest := d.queue[:0]
	for _, q := range d.queue {
		if q.server == id {
			drained = append(drained, q)
		} else {
			rest = append(rest, q)
		}
	}
	d.queue = rest
	d.mu.Unlock()

	if len(drained) == 0 {
		return
	}
	go func() {
		for _, q := range drained {
			ref, ok := d.servers.Snapshot(q.server)
			if !ok {
				q.done <- result{err: fmt.Errorf("%w: %s", ErrUnknownServer, q.server)}
				continue
			}
			wait := d.start(context.Background(), ref, q.command, q.wantResponse)
			go func(q *queued) {
				text, err := wait(context.Background())
				q.done <- result{text: text, err: err}
			}(q)
		}
	}()
}

// Queued returns the number of commands waiting for their server.
func (d *Dispatcher) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Reset fails every queued and pending command with err.
func (d *Dispatcher) Reset(err error) {
	d.mu.Lock()
	queue := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, q := range queue {
		q.done <- result{err: err}
	}
	d.table.Clear(err)
}

type waitFunc func(ctx context.Context) (string, error)

func done(text string, err error) waitFunc {
	return func(context.Context) (string, error) { return text, err }
}

// start sends the command and returns a function that waits for its
// outcome.
func (d *Dispatcher) start(ctx context.Context, ref event.ServerRef, command string, wantResponse bool) waitFunc {
	if d.conn != nil && !d.conn.Open() {
		d.reporter.Report(&ref, "Failed To Send Command: No Websocket Connection!")
		return done("", ErrNotConnected)
	}

	var p *Pending
	if wantResponse {
		p = d.table.Add(ref.Identifier, command)
	}

	d.logger.Debug("Sending Command", "server", ref.Identifier, "command", command)
	err := d.sender.SendConsoleMessage(ctx, ref.TrueServerID, gportal.Region(ref.Region), command)
	if err != nil {
		if p != nil {
			d.table.Remove(p)
		}
		d.reporter.Report(&ref, "Failed To Send Command: "+err.Error())
		return done("", err)
	}
	d.logger.Debug("Command Sent Successfully", "server", ref.Identifier, "command", command)
	if p == nil {
		return done("", nil)
	}

	d.table.setTimer(p, d.clock.AfterFunc(ResponseTimeout, func() {
		if d.table.expire(p, "", nil) {
			d.logger.Debug("No Response For Command", "server", ref.Identifier, "command", command)
		}
	}))

	return func(ctx context.Context) (string, error) {
		select {
		case r := <-p.done:
			return r.text, r.err
		case <-ctx.Done():
			d.table.expire(p, "", ctx.Err())
			r := <-p.done
			return r.text, r.err
		}
	}
}
