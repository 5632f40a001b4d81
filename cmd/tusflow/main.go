// Package main is the entry point for the Tusflow resumable upload server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	"github.com/tusflow/tusflow/internal/handlers"
	"github.com/tusflow/tusflow/internal/logging"
	"github.com/tusflow/tusflow/internal/metrics"
	"github.com/tusflow/tusflow/internal/resilience"
	"github.com/tusflow/tusflow/internal/server"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/storage"
	"github.com/tusflow/tusflow/internal/upload"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	// One breaker and one executor per process; every storage and metadata
	// call shares the same failure budget.
	breaker := resilience.NewBreaker(cfg.Breaker)
	exec := resilience.NewExecutor(breaker, cfg.Retry)

	// Initialize the session store engine based on config.
	var store session.Store
	switch cfg.Session.Engine {
	case "dynamodb":
		store, err = session.NewDynamoDBStore(cfg.Session.DynamoDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize dynamodb session store: %v\n", err)
			os.Exit(1)
		}
		slog.Info("Session store initialized", "engine", "dynamodb", "table", cfg.Session.DynamoDB.Table)
	case "memory":
		store = session.NewMemoryStore()
		slog.Info("Session store initialized", "engine", "memory")
	default:
		store = session.NewRedisStore(cfg.Session.Redis)
		slog.Info("Session store initialized", "engine", "redis", "addr", cfg.Session.Redis.Addr)
	}
	sessions := session.NewAccessor(store, exec, cfg.Upload.IncompleteTTL())
	defer sessions.Close()

	backend, err := storage.NewS3Backend(context.Background(), cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}

	coord := storage.NewCoordinator(backend, exec, cfg.Storage)
	chunker := upload.NewChunker(cfg.Chunk, cfg.Upload)
	orch := upload.NewOrchestrator(sessions, coord, chunker, cfg.Parallel)
	reaper := upload.NewReaper(sessions, coord)
	handler := handlers.NewHandler(sessions, coord, orch, chunker, cfg)

	srv := server.New(cfg, sessions, coord, handler, reaper)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	if cfg.Reaper.Enabled {
		go reaper.Run(reaperCtx, cfg.Reaper.Interval())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Tusflow listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
		stopReaper()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
