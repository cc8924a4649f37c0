package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tallyd/tally-api/internal/api"
	"github.com/tallyd/tally-api/internal/artifact"
	"github.com/tallyd/tally-api/internal/config"
	"github.com/tallyd/tally-api/internal/platform/logger"
	"github.com/tallyd/tally-api/internal/platform/postgres"
	"github.com/tallyd/tally-api/internal/service"
	"github.com/tallyd/tally-api/internal/task"
)

// application holds the wired-up components of the server.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	db          *sql.DB
	runner      *task.TaskRunner
	sweeper     *task.Sweeper
	taskService service.TaskService
}

// newApplication loads configuration, connects to the database, runs
// migrations, and wires the task engine together.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Runner.WorkerCount,
		"tick_interval", cfg.Runner.TickInterval)

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, appLogger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db)
	registry := task.NewRegistry()
	coordinator := task.NewCancelCoordinator()

	artifacts, err := artifact.NewFSStore(cfg.Artifacts.Dir, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up artifact store: %w", err)
	}

	runner := task.NewTaskRunner(taskStore, registry, coordinator, artifacts,
		task.TaskRunnerConfig{
			WorkerCount:     cfg.Runner.WorkerCount,
			QueueSize:       cfg.Runner.QueueSize,
			TickInterval:    cfg.Runner.TickInterval,
			FlushEveryTicks: cfg.Runner.FlushEveryTicks,
		}, appLogger)

	sweeper := task.NewSweeper(taskStore, registry, artifacts,
		task.SweeperConfig{
			Interval: cfg.Sweeper.Interval,
			Policies: task.DefaultSweepPolicies(cfg.Sweeper.CreatedTTL, cfg.Sweeper.Retention),
		}, appLogger)

	taskService := service.NewTaskService(
		taskStore, runner, registry, coordinator,
		cfg.Runner.MaxRangeSpan, appLogger)

	return &application{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		runner:      runner,
		sweeper:     sweeper,
		taskService: taskService,
	}, nil
}

// setupRouter creates and configures the application router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	taskHandler := api.NewTaskHandler(app.taskService, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetProgress)
		r.Delete("/tasks/{id}", taskHandler.CancelTask)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}

// run starts the engine and the HTTP server, then blocks until shutdown.
func (app *application) run() error {
	if err := app.runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	app.sweeper.Start()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.setupRouter(),
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serverErrCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-shutdownCh:
		app.logger.Info("shutting down server...")
	case err := <-serverErrCh:
		app.logger.Error("server failed", "error", err)
		app.cleanup()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
	}

	app.cleanup()
	app.logger.Info("server shutdown completed")
	return nil
}

// cleanup stops the background components deterministically: no engine
// goroutine outlives the process's intended shutdown.
func (app *application) cleanup() {
	app.sweeper.Stop()
	app.runner.Stop()
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}
