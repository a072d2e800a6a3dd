package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reedfamily/rcelink/internal/scheduler"
)

type ScheduleHandler struct {
	sched *scheduler.Scheduler
}

func NewScheduleHandler(sched *scheduler.Scheduler) *ScheduleHandler {
	return &ScheduleHandler{sched: sched}
}

// List returns the configured schedules for a server.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	jobs := []scheduler.Job{}
	for _, j := range h.sched.Jobs() {
		if j.Server == serverID {
			jobs = append(jobs, j)
		}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Runs returns the recent scheduled executions for a server.
func (h *ScheduleHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.sched.Runs(chi.URLParam(r, "id"), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list schedule runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
