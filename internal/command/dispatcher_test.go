package command

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
)

type fakeServers struct {
	mu   sync.Mutex
	refs map[string]event.ServerRef
}

func (f *fakeServers) Snapshot(id string) (event.ServerRef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.refs[id]
	return ref, ok
}

func (f *fakeServers) setReady(id string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := f.refs[id]
	ref.Ready = ready
	f.refs[id] = ref
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendConsoleMessage(_ context.Context, sid int, region gportal.Region, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

type fakeConn struct{ open bool }

func (f fakeConn) Open() bool { return f.open }

type harness struct {
	d       *Dispatcher
	servers *fakeServers
	sender  *fakeSender
	clock   *clock.FakeClock
	errors  *event.Subscription
}

func newHarness(t *testing.T, ready bool) *harness {
	t.Helper()
	clk := clock.Fake(time.Unix(0, 0))
	bus := event.NewBus(clk, 16)
	h := &harness{
		servers: &fakeServers{refs: map[string]event.ServerRef{
			"eu-main": {Identifier: "eu-main", TrueServerID: 42, Region: "EU", Ready: ready},
		}},
		sender: &fakeSender{},
		clock:  clk,
		errors: bus.Subscribe(event.KindError),
	}
	h.d = NewDispatcher(Options{
		Servers:  h.servers,
		Sender:   h.sender,
		Conn:     fakeConn{open: true},
		Clock:    clk,
		Reporter: event.NewReporter(bus, nil),
	})
	return h
}

type outcome struct {
	text string
	err  error
}

func (h *harness) sendAsync(command string, want bool) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		text, err := h.d.Send(context.Background(), "eu-main", command, want)
		ch <- outcome{text, err}
	}()
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendImmediate(t *testing.T) {
	h := newHarness(t, true)
	text, err := h.d.Send(context.Background(), "eu-main", "global.say hi", false)
	if err != nil || text != "" {
		t.Fatalf("Send = %q, %v", text, err)
	}
	if got := h.sender.messages(); !slices.Equal(got, []string{"global.say hi"}) {
		t.Fatalf("sent = %v", got)
	}
}

func TestSendUnknownServer(t *testing.T) {
	h := newHarness(t, true)
	if _, err := h.d.Send(context.Background(), "nope", "Users", false); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("err = %v, want ErrUnknownServer", err)
	}
	if len(h.errors.C) != 1 {
		t.Fatal("unknown server was not reported")
	}
}

func TestSendNotConnected(t *testing.T) {
	h := newHarness(t, true)
	h.d.conn = fakeConn{open: false}
	if _, err := h.d.Send(context.Background(), "eu-main", "Users", false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if len(h.sender.messages()) != 0 {
		t.Fatal("command sent without a connection")
	}
}

func TestResponseCorrelation(t *testing.T) {
	h := newHarness(t, true)
	res := h.sendAsync("serverinfo", true)
	h.clock.WaitForTimers(1)

	table := h.d.Table()
	if !table.Stamp("eu-main", "serverinfo", "07/14/2024 10:00:01") {
		t.Fatal("echo did not stamp the pending command")
	}
	if _, ok := table.Resolve("eu-main", "07/14/2024 10:00:01", "Hostname: My Server"); !ok {
		t.Fatal("response did not resolve")
	}
	r := <-res
	if r.err != nil || r.text != "Hostname: My Server" {
		t.Fatalf("Send = %q, %v", r.text, r.err)
	}
	if table.Len() != 0 {
		t.Fatalf("table still holds %d entries", table.Len())
	}
}

func TestResponseTimeoutIgnoresLateEcho(t *testing.T) {
	h := newHarness(t, true)
	res := h.sendAsync("serverinfo", true)
	h.clock.WaitForTimers(1)

	h.clock.Advance(ResponseTimeout)
	r := <-res
	if r.err != nil || r.text != "" {
		t.Fatalf("timed out Send = %q, %v, want no response", r.text, r.err)
	}
	table := h.d.Table()
	if table.Len() != 0 {
		t.Fatal("timed out command still pending")
	}
	if table.Stamp("eu-main", "serverinfo", "07/14/2024 10:00:05") {
		t.Fatal("late echo stamped an expired command")
	}
}

func TestSendFailureRemovesPending(t *testing.T) {
	h := newHarness(t, true)
	sendErr := errors.New("boom")
	h.sender.err = sendErr
	if _, err := h.d.Send(context.Background(), "eu-main", "serverinfo", true); !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if h.d.Table().Len() != 0 {
		t.Fatal("failed send left a pending entry")
	}
	if len(h.errors.C) != 1 {
		t.Fatal("send failure was not reported")
	}
}

func TestQueuedCommandsFlushInOrder(t *testing.T) {
	h := newHarness(t, false)
	commands := []string{"say one", "say two", "say three"}
	var results []<-chan outcome
	for i, c := range commands {
		results = append(results, h.sendAsync(c, false))
		waitFor(t, "command queued", func() bool { return h.d.Queued() == i+1 })
	}
	if len(h.sender.messages()) != 0 {
		t.Fatal("commands sent before server was ready")
	}

	h.servers.setReady("eu-main", true)
	h.d.Flush("eu-main")
	for _, res := range results {
		if r := <-res; r.err != nil {
			t.Fatalf("queued command failed: %v", r.err)
		}
	}
	if got := h.sender.messages(); !slices.Equal(got, commands) {
		t.Fatalf("sent = %v, want %v", got, commands)
	}

	h.d.Flush("eu-main")
	if got := h.sender.messages(); len(got) != len(commands) {
		t.Fatalf("second flush resent commands: %v", got)
	}
}

func TestQueuedCommandWithdrawnOnCancel(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.d.Send(ctx, "eu-main", "Users", false)
		errc <- err
	}()
	waitFor(t, "command queued", func() bool { return h.d.Queued() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if h.d.Queued() != 0 {
		t.Fatal("cancelled command still queued")
	}
}

func TestResetFailsQueuedAndPending(t *testing.T) {
	h := newHarness(t, true)
	pending := h.sendAsync("serverinfo", true)
	h.clock.WaitForTimers(1)

	h.servers.setReady("eu-main", false)
	queued := h.sendAsync("Users", false)
	waitFor(t, "command queued", func() bool { return h.d.Queued() == 1 })

	h.d.Reset(ErrConnectionReset)
	for _, ch := range []<-chan outcome{pending, queued} {
		if r := <-ch; !errors.Is(r.err, ErrConnectionReset) {
			t.Fatalf("err = %v, want ErrConnectionReset", r.err)
		}
	}
}
