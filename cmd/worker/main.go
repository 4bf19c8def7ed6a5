package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kravchenkoegor/aura/internal/config"
	"github.com/kravchenkoegor/aura/internal/generator"
	"github.com/kravchenkoegor/aura/internal/importer"
	"github.com/kravchenkoegor/aura/internal/media"
	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/queue"
	"github.com/kravchenkoegor/aura/internal/store"
	"github.com/kravchenkoegor/aura/internal/telemetry"
	"github.com/kravchenkoegor/aura/internal/worker"
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

	archive, err := media.NewArchive(ctx, cfg)
	if err != nil {
		logger.Error("init media archive", "error", err)
		os.Exit(1)
	}

	consumer := cfg.ConsumerName
	if consumer == "" {
		if hostname, _ := os.Hostname(); hostname != "" {
			consumer = hostname
		} else {
			consumer = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	status := queue.NewStatusPublisher(q.Client(), cfg.StatusStreamMaxLen)
	sessions := worker.NewStoreSessions(st)

	var pools []*worker.Pool
	for _, kind := range cfg.WorkerTypes {
		switch kind {
		case "ingest":
			imp := importer.NewInstagramImporter(cfg.MediaFetchTimeout, logger)
			handler := worker.NewIngestHandler(imp, archive, logger)
			pools = append(pools, worker.NewPool(worker.Options{
				Stream:      cfg.IngestStream,
				Group:       cfg.IngestGroup,
				Consumer:    consumer,
				BatchSize:   int64(cfg.ReadBatchSize),
				ReadBlock:   cfg.ReadBlock,
				Concurrency: cfg.Concurrency,
				RetryDelay:  cfg.QueueRetryDelay,
				Decode: func(fields map[string]string) error {
					_, err := models.ParseIngestJob(fields)
					return err
				},
			}, q, status, sessions, handler, logger))
		case "generate":
			gen, err := generator.NewGeminiGenerator(ctx, cfg, logger)
			if err != nil {
				logger.Error("init generator", "error", err)
				os.Exit(1)
			}
			handler := worker.NewGenerateHandler(gen, archive, logger)
			pools = append(pools, worker.NewPool(worker.Options{
				Stream:      cfg.GenerateStream,
				Group:       cfg.GenerateGroup,
				Consumer:    consumer,
				BatchSize:   int64(cfg.ReadBatchSize),
				ReadBlock:   cfg.ReadBlock,
				Concurrency: cfg.Concurrency,
				RetryDelay:  cfg.QueueRetryDelay,
				Decode: func(fields map[string]string) error {
					_, err := models.ParseGenerateJob(fields)
					return err
				},
			}, q, status, sessions, handler, logger))
		default:
			logger.Error("unknown worker type", "type", kind)
			os.Exit(1)
		}
	}
	if len(pools) == 0 {
		logger.Error("no worker types configured")
		os.Exit(1)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker starting", "consumer", consumer, "types", cfg.WorkerTypes)
	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("pool stopped", "error", err)
				cancel()
			}
		}(pool)
	}
	wg.Wait()
}

func newLogger(env string) *slog.Logger {
	if env == "dev" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
