package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/api/option"

	"github.com/odyssey-erp/odyssey-backfill/internal/app"
	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	jobmetrics "github.com/odyssey-erp/odyssey-backfill/internal/jobs"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backfill/internal/storage"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var envFiles []string
	if path := os.Getenv("ODYSSEY_ENV_FILE"); path != "" {
		envFiles = append(envFiles, path)
	}
	cfg, err := app.LoadConfig(envFiles...)
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	pipeline, err := app.NewPipeline(ctx, cfg, logger, app.PipelineOptions{
		Repo:          backfill.NewRepository(pool),
		WithDocuments: true,
		Metrics:       metrics,
	})
	if err != nil {
		logger.Error("init pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Warn("document store close", slog.Any("error", err))
		}
	}()

	var clientOpts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	openExtract := func(ctx context.Context, uri string) (io.ReadCloser, error) {
		return storage.OpenURI(ctx, uri, clientOpts...)
	}

	runJob := jobs.NewBackfillRunJob(pipeline.Orchestrator, redisClient, openExtract, cfg.SystemActor(), logger, metrics)
	runJob.LockTTL = cfg.BackfillLockTTL
	runJob.ProgressTTL = cfg.ProgressTTL

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOptions().Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBackfillRun, Handler: runJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
