package db

import (
	"path/filepath"
	"testing"
)

func TestOpenMigrate(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "rcelink.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	// Migrations are idempotent.
	for range 2 {
		if err := Migrate(conn); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
	for _, table := range []string{"events", "schedule_runs"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}
