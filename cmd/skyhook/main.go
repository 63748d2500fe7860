package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skyhook-dev/skyhook/internal/app/migrate"
	"github.com/skyhook-dev/skyhook/internal/docker"
	httpx "github.com/skyhook-dev/skyhook/internal/http"
	"github.com/skyhook-dev/skyhook/internal/repository/postgres"
	"github.com/skyhook-dev/skyhook/internal/service/notify"
	"github.com/skyhook-dev/skyhook/internal/service/release"
	"github.com/skyhook-dev/skyhook/internal/service/routes"
	"github.com/skyhook-dev/skyhook/internal/service/secrets"
	"github.com/skyhook-dev/skyhook/internal/stream"
	"github.com/skyhook-dev/skyhook/internal/trace"
	"github.com/skyhook-dev/skyhook/pkg/config"
	"github.com/skyhook-dev/skyhook/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("skyhook", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.TraceDir, 0o755); err != nil {
		log.Error("failed to prepare trace directory", "dir", cfg.TraceDir, "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	runtime, err := docker.New(cfg.DockerHost, cfg.IsDevelopment())
	if err != nil {
		log.Error("failed to connect to container runtime", "error", err)
		os.Exit(1)
	}
	defer runtime.Close()
	if err := runtime.Ping(ctx); err != nil {
		log.Error("container runtime ping failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	secretSvc := secrets.New(repo, log)

	var notifyOpts []notify.Option
	if url := strings.TrimSpace(cfg.NotifyWebhookURL); url != "" {
		notifyOpts = append(notifyOpts, notify.WithWebhook(url))
	}
	if addr := strings.TrimSpace(cfg.NotifyRedisAddr); addr != "" {
		notifyOpts = append(notifyOpts, notify.WithRedis(addr, cfg.NotifyRedisPass, cfg.NotifyRedisDB, cfg.NotifyChannel))
	}
	notifier := notify.New(log, notifyOpts...)
	defer notifier.Close()

	releaseSvc := release.New(repo, runtime, secretSvc, notifier, log, cfg)

	hub := stream.NewHub(trace.Tail, cfg.TraceFile, log)

	router := httpx.NewRouter(log, releaseSvc, secretSvc, hub, routes.Options{
		BaseDomain:       cfg.BaseDomain,
		Development:      cfg.IsDevelopment(),
		CertResolver:     cfg.CertResolver,
		ScaleToZeroAfter: cfg.ScaleToZeroAfter,
	}, pool.Ping, runtime.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("orchestrator starting", "addr", cfg.Addr, "base_domain", cfg.BaseDomain)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("orchestrator stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
