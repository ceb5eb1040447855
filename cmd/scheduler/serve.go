package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/example/program-scheduler/internal/application"
	"github.com/example/program-scheduler/internal/config"
	httptransport "github.com/example/program-scheduler/internal/http"
	"github.com/example/program-scheduler/internal/locking"
	"github.com/example/program-scheduler/internal/persistence/sqlite"
	"github.com/example/program-scheduler/internal/persistence/sqlite/migration"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the schedule HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd)
		},
	}
}

func (a *app) runServe(cmd *cobra.Command) error {
	if err := a.init(cmd.OutOrStdout()); err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	logger := a.logger

	store, err := sqlite.Open(migration.DefaultSQLiteConfig(a.cfg.SQLiteDSN), logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	locker, closeLocker, err := newLocker(ctx, a.cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	service := application.NewScheduleServiceWithLogger(store, locker, uuid.NewString, time.Now, logger,
		application.WithDefaultTimezone(a.cfg.DefaultTimezone))

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Schedules: httptransport.NewScheduleHandler(service, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequestTimeout(a.cfg.RequestTimeout),
		},
	})

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(ctx, server, ln, logger)
}

// serve runs server on ln until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("scheduler API listening", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// newLocker picks the Redis locker when an address is configured and the
// in-process one otherwise.
func newLocker(ctx context.Context, cfg config.Config, logger *slog.Logger) (locking.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process schedule locks")
		return locking.NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("using redis schedule locks", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	locker := locking.NewRedis(client, locking.RedisOptions{TTL: cfg.LockTTL, Logger: logger})
	return locker, func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}, nil
}
