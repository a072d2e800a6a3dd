package command

import (
	"errors"
	"testing"
)

func TestStampFirstUnstampedWins(t *testing.T) {
	tbl := NewTable()
	first := tbl.Add("eu-main", "Users")
	second := tbl.Add("eu-main", "Users")

	tbl.Stamp("eu-main", "Users", "ts1")
	tbl.Stamp("eu-main", "Users", "ts2")
	if first.Timestamp != "ts1" || second.Timestamp != "ts2" {
		t.Fatalf("timestamps = %q, %q", first.Timestamp, second.Timestamp)
	}
	if tbl.Stamp("eu-main", "Users", "ts3") {
		t.Fatal("third echo stamped with no unstamped entry left")
	}
	if tbl.Stamp("us-2", "Users", "ts3") {
		t.Fatal("echo from another server stamped an entry")
	}

	p, ok := tbl.Resolve("eu-main", "ts2", `<slot:"name">`)
	if !ok || p != second {
		t.Fatal("Resolve picked the wrong entry")
	}
	if r := <-second.done; r.text != `<slot:"name">` {
		t.Fatalf("response = %q", r.text)
	}
	if _, ok := tbl.Resolve("eu-main", "ts2", "again"); ok {
		t.Fatal("entry resolved twice")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
}

func TestResolveIgnoresUnstamped(t *testing.T) {
	tbl := NewTable()
	tbl.Add("eu-main", "Users")
	if _, ok := tbl.Resolve("eu-main", "", "line"); ok {
		t.Fatal("unstamped entry resolved by empty timestamp")
	}
}

func TestClearCompletesWithError(t *testing.T) {
	tbl := NewTable()
	p := tbl.Add("eu-main", "Users")
	tbl.Clear(ErrConnectionReset)
	if r := <-p.done; !errors.Is(r.err, ErrConnectionReset) {
		t.Fatalf("err = %v", r.err)
	}
	if tbl.Remove(p) {
		t.Fatal("cleared entry still removable")
	}
}
