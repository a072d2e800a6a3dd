package registry

import (
	"time"

	"github.com/reedfamily/rcelink/internal/clock"
)

// Polling commands and intervals.
const (
	CommandPlayers = "Users"
	CommandRF      = "rf.listboardcaster"
	CommandHeli    = "find_entity servergibs_patrolhelicopter"
	CommandBradley = "find_entity servergibs_bradley"

	RFInterval     = 30 * time.Second
	DebrisInterval = 60 * time.Second
)

// task re-arms a one-shot timer after every tick so that a stopped task
// never fires again.
type task struct {
	command  string
	interval time.Duration

	timer   *clock.Timer
	stopped bool
}

func (s *server) taskPlan() []*task {
	var plan []*task
	if s.opts.RefreshPlayers > 0 {
		plan = append(plan, &task{command: CommandPlayers, interval: time.Duration(s.opts.RefreshPlayers) * time.Minute})
	}
	if s.opts.RFBroadcasting {
		plan = append(plan, &task{command: CommandRF, interval: RFInterval})
	}
	if s.opts.HeliFeeds {
		plan = append(plan, &task{command: CommandHeli, interval: DebrisInterval})
	}
	if s.opts.BradFeeds {
		plan = append(plan, &task{command: CommandBradley, interval: DebrisInterval})
	}
	return plan
}

// startTasks arms the server's polling tasks unless they already run.
// Callers hold r.mu.
func (r *Registry) startTasks(s *server) {
	if s.pollsRunning {
		return
	}
	s.pollsRunning = true
	s.tasks = s.taskPlan()
	for _, t := range s.tasks {
		r.arm(s.opts.Identifier, t)
	}
}

func (r *Registry) arm(id string, t *task) {
	t.timer = r.clock.AfterFunc(t.interval, func() {
		r.mu.Lock()
		if t.stopped {
			r.mu.Unlock()
			return
		}
		r.arm(id, t)
		r.mu.Unlock()

		if r.hooks.Poll != nil {
			r.hooks.Poll(id, t.command)
		}
	})
}

func (s *server) stopTasks() {
	for _, t := range s.tasks {
		t.stopped = true
		t.timer.Stop()
	}
	s.tasks = nil
	s.pollsRunning = false
}

// Polling returns the commands of the server's running polling tasks.
func (r *Registry) Polling(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return nil
	}
	var out []string
	for _, t := range s.tasks {
		out = append(out, t.command)
	}
	return out
}
