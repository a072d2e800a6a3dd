// Package scheduler runs configured console commands on a cron schedule.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reedfamily/rcelink/internal/clock"
)

// RunTimeout bounds one scheduled command, including time spent queued
// while its server is not ready.
const RunTimeout = time.Minute

// Job is one scheduled console command.
type Job struct {
	Server  string `json:"server"`
	Cron    string `json:"cron"`
	Command string `json:"command"`
}

// Run is a recorded execution of a Job.
type Run struct {
	ID      string    `json:"id"`
	Server  string    `json:"server"`
	Cron    string    `json:"cron"`
	Command string    `json:"command"`
	Error   string    `json:"error,omitempty"`
	RanAt   time.Time `json:"ran_at"`
}

// Commander sends console commands.
type Commander interface {
	SendCommand(ctx context.Context, id, command string, wantResponse bool) (string, error)
}

type job struct {
	Job
	expr *CronExpr
}

type Scheduler struct {
	jobs     []job
	commands Commander
	db       *sql.DB
	clock    clock.Clock
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates every job. db may be nil, in which case runs are not
// recorded.
func New(jobs []Job, commands Commander, db *sql.DB, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{commands: commands, db: db, clock: clk, logger: logger}
	for _, j := range jobs {
		if j.Server == "" || j.Command == "" {
			return nil, fmt.Errorf("schedule %q: server and command are required", j.Cron)
		}
		expr, err := ParseCron(j.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q for %s: %w", j.Cron, j.Server, err)
		}
		s.jobs = append(s.jobs, job{Job: j, expr: expr})
	}
	return s, nil
}

func (s *Scheduler) Jobs() []Job {
	out := make([]Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Job
	}
	return out
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Tick on each minute boundary.
		for {
			now := s.clock.Now()
			next := now.Truncate(time.Minute).Add(time.Minute)
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(next.Sub(now)):
				s.tick(ctx, next)
			}
		}
	}()

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
}

// Stop ends the tick loop and waits for running commands.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if !j.expr.Matches(now) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, j.Job, now)
		}()
	}
}

func (s *Scheduler) execute(ctx context.Context, j Job, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, RunTimeout)
	defer cancel()

	s.logger.Info("scheduler: running command", "server", j.Server, "command", j.Command, "cron", j.Cron)
	_, err := s.commands.SendCommand(ctx, j.Server, j.Command, false)
	if err != nil {
		s.logger.Warn("scheduler: command failed", "server", j.Server, "command", j.Command, "error", err)
	}
	s.record(j, now, err)
}

func (s *Scheduler) record(j Job, now time.Time, runErr error) {
	if s.db == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.Exec(
		`INSERT INTO schedule_runs (id, server, cron_expr, command, error, ran_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), j.Server, j.Cron, j.Command, msg, now.UTC(),
	)
	if err != nil {
		s.logger.Warn("scheduler: record run failed", "error", err)
	}
}

// Runs returns the most recent recorded runs for server, newest first.
func (s *Scheduler) Runs(server string, limit int) ([]Run, error) {
	runs := []Run{}
	if s.db == nil {
		return runs, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, server, cron_expr, command, error, ran_at FROM schedule_runs
		WHERE server = ? ORDER BY ran_at DESC, rowid DESC LIMIT ?`,
		server, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query schedule runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Server, &r.Cron, &r.Command, &r.Error, &r.RanAt); err != nil {
			return nil, fmt.Errorf("scan schedule run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
