// Package server assembles the admin HTTP API around a running manager.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/reedfamily/rcelink/internal/api"
	"github.com/reedfamily/rcelink/internal/rce"
	"github.com/reedfamily/rcelink/internal/scheduler"
)

type Options struct {
	Addr         string
	APITokenHash string
	CORSOrigins  []string
	Manager      *rce.Manager
	// History is nil when the journal is disabled.
	History   api.History
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

type Server struct {
	router chi.Router
	http   *http.Server
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serverHandler := api.NewServerHandler(opts.Manager, opts.History)
	scheduleHandler := api.NewScheduleHandler(opts.Scheduler)
	eventHandler := api.NewEventHandler(opts.Manager, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: slog.NewLogLogger(logger.Handler(), slog.LevelDebug), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.TokenAuth(opts.APITokenHash))

		r.Get("/status", serverHandler.Status)
		// WebSocket (token via query param)
		r.Get("/events", eventHandler.Live)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", serverHandler.List)
			r.Post("/", serverHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", serverHandler.Get)
				r.Delete("/", serverHandler.Delete)
				r.Post("/command", serverHandler.Command)
				r.Get("/events", serverHandler.Events)
				r.Get("/schedules", scheduleHandler.List)
				r.Get("/schedules/runs", scheduleHandler.Runs)
			})
		})
	})

	// Command requests may wait for a server to become ready.
	return &Server{
		router: r,
		http: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: api.CommandTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (s *Server) Router() chi.Router {
	return s.router
}

// HTTP returns the configured http.Server.
func (s *Server) HTTP() *http.Server {
	return s.http
}
