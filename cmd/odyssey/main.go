package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-backfill/internal/app"
	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	backfillhttp "github.com/odyssey-erp/odyssey-backfill/internal/backfill/http"
	jobmetrics "github.com/odyssey-erp/odyssey-backfill/internal/jobs"
	"github.com/odyssey-erp/odyssey-backfill/internal/observability"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
	"github.com/odyssey-erp/odyssey-backfill/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(envFiles()...)
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	pipeline, err := app.NewPipeline(ctx, cfg, logger, app.PipelineOptions{
		Repo:          backfill.NewRepository(dbpool),
		WithDocuments: true,
		Metrics:       jobMetrics,
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

	queue, err := jobs.NewClient(cfg.RedisOptions().Asynq())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cfg.RedisOptions().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		BackfillHandler: backfillhttp.NewHandler(backfillhttp.Config{
			Logger:      logger,
			Runner:      pipeline.Orchestrator,
			Queue:       queue,
			Redis:       redisClient,
			SystemActor: cfg.SystemActor(),
			ProgressTTL: cfg.ProgressTTL,
		}),
		ReportHandler: report.NewHandler(pipeline.PDF, pipeline.Documents, logger),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

func envFiles() []string {
	if path := os.Getenv("ODYSSEY_ENV_FILE"); path != "" {
		return []string{path}
	}
	return nil
}
