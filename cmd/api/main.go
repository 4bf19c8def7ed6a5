package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kravchenkoegor/aura/internal/api"
	"github.com/kravchenkoegor/aura/internal/config"
	"github.com/kravchenkoegor/aura/internal/queue"
	"github.com/kravchenkoegor/aura/internal/ratelimit"
	"github.com/kravchenkoegor/aura/internal/relay"
	"github.com/kravchenkoegor/aura/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}

	q := queue.NewStreams(cfg)
	defer q.Close()
	for stream, group := range map[string]string{
		cfg.IngestStream:   cfg.IngestGroup,
		cfg.GenerateStream: cfg.GenerateGroup,
	} {
		if err := q.EnsureGroup(ctx, stream, group); err != nil {
			logger.Error("ensure consumer group", "stream", stream, "error", err)
			os.Exit(1)
		}
	}

	limiter := ratelimit.NewTokenBucket(q.Client(), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	rel := relay.New(q.Client(), st, cfg.RelayPollBlock, cfg.RelayRetryDelay, logger)
	verifier := api.NewJWTVerifier(cfg.JWTSecret)

	server := api.New(cfg, st, q, limiter, rel, verifier, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(env string) *slog.Logger {
	if env == "dev" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
