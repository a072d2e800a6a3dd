// Package db opens the sqlite store shared by the journal and the
// scheduler.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		server TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		recorded_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_server_time ON events(server, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS schedule_runs (
		id TEXT PRIMARY KEY,
		server TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		command TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		ran_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_runs_server_time ON schedule_runs(server, ran_at)`,
}
