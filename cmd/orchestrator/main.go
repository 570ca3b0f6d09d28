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

	"github.com/Jackwwg83/coderunner2/internal/app/migrate"
	"github.com/Jackwwg83/coderunner2/internal/cleanup"
	httpx "github.com/Jackwwg83/coderunner2/internal/http"
	"github.com/Jackwwg83/coderunner2/internal/limiter"
	"github.com/Jackwwg83/coderunner2/internal/orchestrator"
	"github.com/Jackwwg83/coderunner2/internal/policy"
	"github.com/Jackwwg83/coderunner2/internal/provider"
	"github.com/Jackwwg83/coderunner2/internal/repository/postgres"
	"github.com/Jackwwg83/coderunner2/internal/stream"
	"github.com/Jackwwg83/coderunner2/pkg/config"
	"github.com/Jackwwg83/coderunner2/pkg/logger"
)

func main() {
	cfg := config.LoadOrchestratorConfig()
	log := logger.New("orchestrator", slog.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	repo := postgres.New(pool)
	providerClient, err := provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderToken, cfg.ProviderTimeout)
	if err != nil {
		log.Error("failed to configure provider client", "error", err)
		os.Exit(1)
	}
	admission := limiter.New(cfg.MaxConcurrentPerUser, cfg.MaxConcurrentGlobal)
	policies := policy.NewTable(cfg)
	hub := stream.NewHub(cfg.EventBufferSize, cfg.SubscriberBuffer, log)

	orch := orchestrator.New(repo, providerClient, admission, policies, hub, log, cfg)
	if err := orch.Start(ctx); err != nil {
		log.Error("orchestrator startup failed", "error", err)
		os.Exit(1)
	}

	sweeper := cleanup.New(orch, cfg.CleanupInterval, cfg.MaxIdleTime, cfg.MaxSandboxAge, cfg.OrphanTimeout, cfg.CleanupBatchSize, log)
	go sweeper.Run(ctx)

	rateLimiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			rateLimiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, orch, hub, rateLimiter, cfg.JWTSecret, cfg.ProviderToken, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("orchestrator server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("orchestrator server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
