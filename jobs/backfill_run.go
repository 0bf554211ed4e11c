package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/extract"
	jobmetrics "github.com/odyssey-erp/odyssey-backfill/internal/jobs"
	"github.com/odyssey-erp/odyssey-backfill/internal/shared"
)

// PhaseLoading labels failures that happen before the pipeline starts.
const PhaseLoading = "Loading extract"

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BackfillRunner executes an import batch.
type BackfillRunner interface {
	Run(ctx context.Context, batch backfill.ImportBatch, sink backfill.ProgressSink) backfill.Result
}

// ExtractOpener opens the extract at uri.
type ExtractOpener func(ctx context.Context, uri string) (io.ReadCloser, error)

// BackfillRunJob loads an extract, runs the import under a per-actor lock and
// publishes progress to Redis.
type BackfillRunJob struct {
	Runner      BackfillRunner
	Redis       *redis.Client
	Open        ExtractOpener
	SystemActor uuid.UUID
	LockTTL     time.Duration
	ProgressTTL time.Duration
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewBackfillRunJob constructs the job handler.
func NewBackfillRunJob(runner BackfillRunner, client *redis.Client, open ExtractOpener, systemActor uuid.UUID, logger *slog.Logger, metrics *jobmetrics.Metrics) *BackfillRunJob {
	return &BackfillRunJob{
		Runner:      runner,
		Redis:       client,
		Open:        open,
		SystemActor: systemActor,
		LockTTL:     2 * time.Hour,
		ProgressTTL: 24 * time.Hour,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the backfill run job.
func (j *BackfillRunJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil || j.Redis == nil || j.Open == nil {
		return errors.New("backfill run: dependencies not configured")
	}
	var payload BackfillRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := payload.validate(); err != nil {
		j.log().Warn("invalid payload", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskBackfillRun)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("target_actor", payload.TargetActor.String()))
	lock, err := shared.AcquireLock(ctx, j.Redis, shared.BackfillLockKey(payload.TargetActor), j.LockTTL)
	if err != nil {
		resultErr = err
		if errors.Is(err, shared.ErrLockHeld) {
			logger.Warn("import already running for actor")
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		logger.Error("acquire lock", slog.Any("error", err))
		return resultErr
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release lock", slog.Any("error", err))
		}
	}()

	taskID, _ := asynq.GetTaskID(ctx)
	progress := backfill.NewRedisProgress(ctx, j.Redis, payload.TargetActor, taskID, j.ProgressTTL, logger)

	batch, err := j.load(ctx, payload)
	if err != nil {
		resultErr = err
		logger.Error("load extract", slog.String("uri", payload.ExtractURI), slog.Any("error", err))
		progress.Complete(backfill.Result{
			Status:      backfill.StatusError,
			FailedPhase: PhaseLoading,
			Errors:      []string{err.Error()},
		})
		if errors.Is(err, errTransient) {
			return resultErr
		}
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	start := j.now()
	sink := backfill.MultiSink{progress, backfill.ProgressFunc(func(percent int, phase string) {
		logger.Debug("backfill progress", slog.Int("percent", percent), slog.String("phase", phase))
	})}
	res := j.Runner.Run(ctx, batch, sink)
	progress.Complete(res)
	if res.Status != backfill.StatusSuccess {
		resultErr = fmt.Errorf("backfill failed in %q: %v", res.FailedPhase, res.Errors)
		logger.Error("backfill run failed", slog.String("phase", res.FailedPhase), slog.Any("errors", res.Errors))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, resultErr)
	}
	attrs := []any{slog.Duration("duration", j.now().Sub(start))}
	if res.Results != nil {
		attrs = append(attrs,
			slog.Int("sales", res.Results.SalesImported),
			slog.Int("expenses", res.Results.ExpensesImported),
			slog.Int("documents", res.Results.DocumentsGenerated),
		)
	}
	if len(res.Warnings) > 0 {
		attrs = append(attrs, slog.Int("warnings", len(res.Warnings)))
	}
	logger.Info("backfill run complete", attrs...)
	return resultErr
}

var errTransient = errors.New("transient")

func (j *BackfillRunJob) load(ctx context.Context, payload BackfillRunPayload) (backfill.ImportBatch, error) {
	var (
		format extract.Format
		err    error
	)
	if payload.Format != "" {
		format, err = extract.ParseFormat(payload.Format)
	} else {
		format, err = extract.FormatFromPath(payload.ExtractURI)
	}
	if err != nil {
		return backfill.ImportBatch{}, err
	}
	rc, err := j.Open(ctx, payload.ExtractURI)
	if err != nil {
		return backfill.ImportBatch{}, fmt.Errorf("open %s: %w: %w", payload.ExtractURI, errTransient, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	ext, err := extract.Decode(rc, format)
	if err != nil {
		return backfill.ImportBatch{}, err
	}
	return ext.Apply(backfill.ImportBatch{
		BatchSize:                payload.BatchSize,
		TargetActor:              payload.TargetActor,
		SystemActor:              j.SystemActor,
		GenerateMissingDocuments: payload.GenerateDocuments,
		OverwriteExisting:        payload.OverwriteExisting,
	}), nil
}

func (j *BackfillRunJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BackfillRunJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBackfillRun))
	}
	return slog.Default().With(slog.String("job", TaskBackfillRun))
}

func (j *BackfillRunJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *BackfillRunJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
