// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/lcca/internal/api"
	"github.com/starford/lcca/internal/autosave"
	"github.com/starford/lcca/internal/events"
	"github.com/starford/lcca/internal/index"
	"github.com/starford/lcca/internal/mcpserver"
	"github.com/starford/lcca/internal/projectservice"
	"github.com/starford/lcca/internal/registry"
	"github.com/starford/lcca/internal/session"
	"github.com/starford/lcca/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger initializes the structured JSON logger.
func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStores opens the projects root and the catalog, then syncs the catalog.
func (a *application) openStores(logger *slog.Logger) (*storage.Root, *index.DB, error) {
	cfg := a.config
	if err := os.MkdirAll(cfg.Projects.Root, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create projects dir: %w", err)
	}
	root, err := storage.NewRoot(cfg.Projects.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}
	if err := index.Sync(db, root, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return root, db, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("projects_root", cfg.Projects.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Duration("autosave_debounce", cfg.Autosave.Debounce),
		slog.Duration("autosave_bound", cfg.Autosave.Bound))

	root, db, err := app.openStores(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := events.NewBroker(0)
	defer broker.Close()

	reg := registry.New(root,
		registry.WithPublisher(broker),
		registry.WithLogger(logger),
		registry.WithSessionOptions(
			session.WithSchedulerOptions(autosave.WithIntervals(cfg.Autosave.Debounce, cfg.Autosave.Bound)),
		))
	svc := projectservice.NewService(root, db, reg, logger)
	apiRouter := api.NewRouter(api.NewHandler(svc, reg), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Ping(); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "catalog unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	// Keep the catalog in sync and tell dashboards about external changes.
	g.Go(func() error {
		return index.Watch(gCtx, db, root, logger, func(kind, id string) {
			broker.PublishProjectEvent(kind, id)
		})
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown: signals, cancellation, or the last session closing.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		var idle <-chan struct{}
		if cfg.App.ExitWhenIdle {
			idle = reg.Done()
		}

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-idle:
			logger.Info("Last session closed")
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		if err := reg.Shutdown(shutdownCtx); err != nil {
			logger.Error("Session shutdown error", slog.String("error", err.Error()))
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// Check inspects every project under the root and writes one JSON line per
// project to out. With repair set, recoverable projects are repaired. It
// reports an error when any project is left unhealthy.
func Check(ctx context.Context, out io.Writer, repair bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	root, db, err := app.openStores(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := projectservice.NewService(root, db, nil, logger).Check(ctx, repair)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	unhealthy := 0
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Health.Canonical.Healthy {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d projects unhealthy", unhealthy, len(results))
	}
	return nil
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	root, db, err := app.openStores(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := projectservice.NewService(root, db, nil, logger)
	logger.Info("MCP server starting", slog.String("projects_root", app.config.Projects.Root))
	return mcpserver.New(svc, app.version).ServeStdio()
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": msg})
}
