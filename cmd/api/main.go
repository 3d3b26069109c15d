package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/flock/internal/app/migrate"
	httpx "github.com/splax/flock/internal/http"
	"github.com/splax/flock/internal/notify"
	"github.com/splax/flock/internal/repository/postgres"
	"github.com/splax/flock/internal/service/account"
	"github.com/splax/flock/internal/service/follow"
	"github.com/splax/flock/internal/token"
	"github.com/splax/flock/internal/ws"
	"github.com/splax/flock/pkg/config"
	"github.com/splax/flock/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

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
	tokens := token.NewService(cfg.TokenSecret)

	consumed := token.NewMemoryConsumedStore()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisConsumed, err := token.NewRedisConsumedStore(addr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			log.Warn("redis consumed-token store unavailable", "error", err)
		} else {
			consumed = redisConsumed
		}
	}
	defer consumed.Close()

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.SMTPAddr != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.AppURL)
	}

	eventHub := ws.NewHub()

	accountSvc := account.New(repo, repo, tokens, consumed, notifier, log, cfg)
	followSvc := follow.New(repo, repo, eventHub, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPass, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, accountSvc, followSvc, tokens, eventHub, limiter, cfg.AppURL, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
