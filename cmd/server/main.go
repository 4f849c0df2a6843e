/*
main.go - Application entry point

PURPOSE:
  Starts the attendance, leave and payroll reconciliation server.
  Handles configuration, store selection, dependency wiring and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment (config.Load)
  2. Apply command-line overrides
  3. Open the record store (memory, sqlite or postgres)
  4. Build the engine, API handler and router
  5. Start the year-end leave rollover job
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     .env file to read (default: .env, missing is fine)
  -port    HTTP server port (overrides APP_PORT)
  -driver  Record store: memory, sqlite, postgres (overrides DB_DRIVER)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the rollover job
  4. Close the store
  5. Exit

EXAMPLES:
  ./server -driver=sqlite -db="./data/reconcile.db"
  DATABASE_URL=postgres://localhost/reconcile ./server -driver=postgres
  ./server -driver=memory -port=3000

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/reconcile-engine/api"
	"github.com/warp/reconcile-engine/config"
	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/leave"
	"github.com/warp/reconcile-engine/store/memory"
	"github.com/warp/reconcile-engine/store/postgres"
	"github.com/warp/reconcile-engine/store/sqlite"
)

func main() {
	// Flags
	envFile := flag.String("env", ".env", "Environment file")
	port := flag.Int("port", 0, "HTTP server port")
	driver := flag.String("driver", "", "Record store: memory, sqlite or postgres")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := newLogger(cfg.App.LogLevel).With(slog.String("app", "reconcile-engine"), slog.String("env", cfg.App.Env))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize %s store: %w", cfg.Database.Driver, err)
	}
	defer closeStore()

	if cfg.JWT.Secret == "" {
		logger.Warn("JWT_SECRET is empty; tokens are signed with an empty key")
	}

	e := engine.New(store, cfg.Engine, logger)
	rollover := e.Rollover()
	rollover.Start(ctx)
	defer rollover.Stop()
	handler := api.NewHandler(e, logger)
	router := api.NewRouter(handler, api.NewAuthenticator(cfg.JWT.Secret), api.RouterOptions{
		AllowedOrigins: cfg.App.AllowedOrigins,
		LogLevel:       cfg.App.LogLevel,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, db config.DatabaseConfig) (engine.Store, func(), error) {
	switch db.Driver {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		s, err := sqlite.New(db.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := postgres.New(ctx, db.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", db.Driver)
}

// newLogger writes text logs to stderr and names the ledger's fatal level.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= leave.LevelFatal {
					a.Value = slog.StringValue("FATAL")
				}
			}
			return a
		},
	}))
}
