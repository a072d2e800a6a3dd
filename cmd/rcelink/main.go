package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/reedfamily/rcelink/internal/config"
	"github.com/reedfamily/rcelink/internal/db"
	"github.com/reedfamily/rcelink/internal/event"
	"github.com/reedfamily/rcelink/internal/gportal"
	"github.com/reedfamily/rcelink/internal/journal"
	"github.com/reedfamily/rcelink/internal/logging"
	"github.com/reedfamily/rcelink/internal/rce"
	"github.com/reedfamily/rcelink/internal/registry"
	"github.com/reedfamily/rcelink/internal/scheduler"
	"github.com/reedfamily/rcelink/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rcelink",
	Short:         "Remote console link for G-Portal hosted Rust servers",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token <token>",
	Short: "Print the bcrypt hash to use as api_token_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RCELINK_CONFIG"), "path to the YAML config file")
	rootCmd.AddCommand(hashTokenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rcelink:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	bus := event.NewBus(nil, 0)
	defer bus.Close()

	logger, logCloser, err := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Hook: func(level, msg string) {
			bus.Publish(nil, event.Log{Level: level, Content: msg})
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	var database *sql.DB
	if cfg.Journal.Path != "" {
		database, err = db.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	servers := make([]registry.Options, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, registry.Options{
			Identifier:     s.Identifier,
			ServerID:       s.ServerID,
			Region:         gportal.Region(s.Region),
			RefreshPlayers: s.RefreshPlayers,
			RFBroadcasting: s.RFBroadcasting,
			HeliFeeds:      s.HeliFeeds,
			BradFeeds:      s.BradFeeds,
		})
	}

	manager, err := rce.New(rce.Options{
		Email:    cfg.Email,
		Password: cfg.Password,
		Servers:  servers,
		Routes: gportal.Routes{
			API:       cfg.Routes.API,
			Websocket: cfg.Routes.Websocket,
			Origin:    cfg.Routes.Origin,
		},
		LoginURL:           cfg.Routes.Login,
		TokenURL:           cfg.Routes.Token,
		ConnectTimeout:     cfg.ConnectTimeout,
		CommandRate:        cfg.CommandRate,
		CommandBurst:       cfg.CommandBurst,
		UnavailablePattern: cfg.UnavailablePattern,
		UnavailableStatus:  cfg.UnavailableStatus,
		Bus:                bus,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer manager.Close()

	var history *journal.Journal
	if database != nil {
		history = journal.New(database, cfg.Journal.Retention, nil, logger.With("component", "journal"))
		sub := manager.Subscribe(journal.Kinds()...)
		defer manager.Unsubscribe(sub)
		go history.Run(ctx, sub)
	}

	jobs := make([]scheduler.Job, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		jobs = append(jobs, scheduler.Job{Server: s.Server, Cron: s.Cron, Command: s.Command})
	}
	sched, err := scheduler.New(jobs, manager, database, nil, logger.With("component", "scheduler"))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := manager.Init(ctx); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var srv *server.Server
	if cfg.ListenAddr != "" && cfg.APITokenHash != "" {
		opts := server.Options{
			Addr:         cfg.ListenAddr,
			APITokenHash: cfg.APITokenHash,
			CORSOrigins:  cfg.CORSOrigins,
			Manager:      manager,
			Scheduler:    sched,
			Logger:       logger.With("component", "api"),
		}
		if history != nil {
			opts.History = history
		}
		srv = server.New(opts)
		go func() {
			logger.Info("API listening", "addr", cfg.ListenAddr)
			if err := srv.HTTP().ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server error", "error", err)
			}
		}()
	} else {
		logger.Info("API disabled: listen address or api_token_hash not set")
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.HTTP().Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
	return nil
}
