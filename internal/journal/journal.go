// Package journal records published events to sqlite so recent server
// history can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reedfamily/rcelink/internal/clock"
	"github.com/reedfamily/rcelink/internal/event"
)

const (
	DefaultRetention = 7 * 24 * time.Hour
	PruneInterval    = time.Hour
	DefaultLimit     = 100
	MaxLimit         = 1000
)

// Entry is one recorded event.
type Entry struct {
	ID         string          `json:"id"`
	Server     string          `json:"server"`
	Kind       event.Kind      `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type Journal struct {
	db        *sql.DB
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger
}

func New(db *sql.DB, retention time.Duration, clk clock.Clock, logger *slog.Logger) *Journal {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, clock: clk, retention: retention, logger: logger}
}

// Record stores ev. Events without a payload are ignored.
func (j *Journal) Record(ev event.Event) error {
	if ev.Payload == nil {
		return nil
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Kind(), err)
	}
	at := ev.At
	if at.IsZero() {
		at = j.clock.Now()
	}
	_, err = j.db.Exec(
		`INSERT INTO events (id, server, kind, payload, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.ServerID(), string(ev.Kind()), string(payload), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for server, newest first. An empty
// server selects process-wide events.
func (j *Journal) Recent(server string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	rows, err := j.db.Query(
		`SELECT id, server, kind, payload, recorded_at FROM events
		WHERE server = ? ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		server, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind, payload string
		if err := rows.Scan(&e.ID, &e.Server, &kind, &payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = event.Kind(kind)
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes events older than the retention window.
func (j *Journal) Prune() (int64, error) {
	cutoff := j.clock.Now().Add(-j.retention).UTC()
	res, err := j.db.Exec(`DELETE FROM events WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Run records every event from sub until ctx ends or the subscription is
// closed, pruning once per PruneInterval.
func (j *Journal) Run(ctx context.Context, sub *event.Subscription) {
	ticker := j.clock.NewTicker(PruneInterval)
	defer ticker.Stop()

	j.prune()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := j.Record(ev); err != nil {
				j.logger.Warn("journal: record failed", "kind", ev.Kind(), "error", err)
			}
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *Journal) prune() {
	n, err := j.Prune()
	if err != nil {
		j.logger.Warn("journal: prune failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("journal: pruned events", "count", n)
	}
}

// Kinds lists the event kinds worth recording. Log events mirror the log
// file and are left out.
func Kinds() []event.Kind {
	var out []event.Kind
	for _, k := range event.Kinds {
		if k != event.KindLog {
			out = append(out, k)
		}
	}
	return out
}
