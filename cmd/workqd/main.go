// Command workqd runs the workq job processing daemon: it selects a
// broker backend from the environment, starts the per-queue worker
// pools, serves the HTTP API, and drains gracefully on SIGINT/SIGTERM.
//
// Configuration is environment-driven:
//
//	WORKQ_POSTGRES_URL      use the Postgres backend
//	WORKQ_BROKER_ADDR       use the Redis backend (default localhost:6379)
//	WORKQ_STORE=memory      force the in-memory backend (dev only)
//	WORKQ_QUEUES            per-queue concurrency, e.g. "video:2,document:4,ai:4"
//	WORKQ_LISTEN_ADDR       HTTP bind address (default :8080)
//	WORKQ_API_KEY           optional X-API-Key guard for the API
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	redisclient "github.com/redis/go-redis/v9"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/api"
	"github.com/hirewire/workq/audithook"
	"github.com/hirewire/workq/engine"
	"github.com/hirewire/workq/store"
	"github.com/hirewire/workq/store/memory"
	"github.com/hirewire/workq/store/postgres"
	redisstore "github.com/hirewire/workq/store/redis"
	"github.com/hirewire/workq/workload"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := workq.ConfigFromEnv()

	if err := run(logger, cfg); err != nil {
		logger.Error("workqd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg workq.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	coord, err := workq.New(
		workq.WithConfig(cfg),
		workq.WithLogger(logger),
		workq.WithStore(st),
	)
	if err != nil {
		return err
	}

	eng, err := engine.Build(coord)
	if err != nil {
		return err
	}

	// Collaborators are nil until wired to real services; the processors
	// fail such jobs permanently instead of retrying forever.
	workload.RegisterAll(eng, workload.Deps{})

	// Lifecycle events also land in the audit log.
	eng.Hooks().Register(audithook.New(audithook.NewLogRecorder(logger)))

	if err := coord.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker pools started", slog.Int("queues", len(cfg.Concurrency)))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(eng, cfg.APIKey, logger).Handler(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http api listening", slog.String("addr", cfg.ListenAddr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	// Stop accepting HTTP traffic first, then drain the pools within
	// the configured deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := coord.Stop(shutdownCtx); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore selects the broker backend: Postgres when a URL is set,
// the in-memory store when forced, Redis otherwise.
func openStore(ctx context.Context, logger *slog.Logger, cfg workq.Config) (store.Store, error) {
	switch {
	case os.Getenv("WORKQ_STORE") == "memory":
		logger.Warn("using in-memory store, jobs are lost on restart")
		return memory.New(), nil

	case cfg.PostgresURL != "":
		logger.Info("using postgres store")
		return postgres.New(ctx, cfg.PostgresURL, postgres.WithLogger(logger))

	default:
		logger.Info("using redis store", slog.String("addr", cfg.BrokerAddr))
		client := redisclient.NewClient(&redisclient.Options{
			Addr:     cfg.BrokerAddr,
			Password: cfg.BrokerPassword,
			DB:       cfg.BrokerDB,
		})
		return redisstore.New(client, redisstore.WithLogger(logger)), nil
	}
}
