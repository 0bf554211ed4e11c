package backfillhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/extract"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
)

const (
	rateLimit  = 10
	rateWindow = time.Minute
	maxBody    = 32 << 20
)

type runner interface {
	Run(ctx context.Context, batch backfill.ImportBatch, sink backfill.ProgressSink) backfill.Result
}

type enqueuer interface {
	EnqueueBackfill(ctx context.Context, payload jobs.BackfillRunPayload) (*asynq.TaskInfo, error)
}

// Handler exposes dry runs, run submission and run progress over HTTP.
type Handler struct {
	logger      *slog.Logger
	runner      runner
	queue       enqueuer
	redis       *redis.Client
	systemActor uuid.UUID
	progressTTL time.Duration
	snapshots   singleflight.Group
}

// Config groups the handler dependencies. Queue and Redis may be nil when the
// server runs without a worker; the run endpoints then answer 503.
type Config struct {
	Logger      *slog.Logger
	Runner      runner
	Queue       enqueuer
	Redis       *redis.Client
	SystemActor uuid.UUID
	ProgressTTL time.Duration
}

// NewHandler constructs the backfill HTTP handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ProgressTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{
		logger:      logger,
		runner:      cfg.Runner,
		queue:       cfg.Queue,
		redis:       cfg.Redis,
		systemActor: cfg.SystemActor,
		progressTTL: ttl,
	}
}

// MountRoutes registers the backfill endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, r, http.StatusTooManyRequests, "")
		}),
	)
	r.Route("/backfill", func(r chi.Router) {
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/dry-run", h.dryRun)
			gr.Post("/runs", h.enqueue)
		})
		r.Get("/runs/{actor}", h.status)
	})
}

type dryRunRequest struct {
	TargetActor       uuid.UUID       `json:"target_actor"`
	GenerateDocuments bool            `json:"generate_documents"`
	BatchSize         int             `json:"batch_size"`
	Extract           extract.Extract `json:"extract"`
}

func (h *Handler) dryRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		httpx.RespondError(w, r, fmt.Errorf("%w: import pipeline not configured", httpx.ErrUnavailable))
		return
	}
	var req dryRunRequest
	if err := httpx.DecodeJSON(w, r, &req, maxBody); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	batch := req.Extract.Apply(backfill.ImportBatch{
		DryRun:                   true,
		BatchSize:                req.BatchSize,
		TargetActor:              req.TargetActor,
		SystemActor:              h.systemActor,
		GenerateMissingDocuments: req.GenerateDocuments,
	})
	res := h.runner.Run(r.Context(), batch, nil)
	status := http.StatusOK
	if res.Status != backfill.StatusSuccess {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, res)
}

type enqueueResponse struct {
	TaskID    string `json:"task_id"`
	Queue     string `json:"queue"`
	Actor     string `json:"actor"`
	StatusURL string `json:"status_url"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil || h.redis == nil {
		httpx.RespondError(w, r, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	var payload jobs.BackfillRunPayload
	if err := httpx.DecodeJSON(w, r, &payload, 64<<10); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if snap, err := backfill.LoadSnapshot(r.Context(), h.redis, payload.TargetActor); err == nil && snap.Status == backfill.StatusProcessing {
		httpx.RespondError(w, r, fmt.Errorf("%w: import already running for %s", httpx.ErrConflict, payload.TargetActor))
		return
	}
	info, err := h.queue.EnqueueBackfill(r.Context(), payload)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidPayload) {
			httpx.RespondError(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return
		}
		h.logger.Error("enqueue backfill", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	backfill.NewRedisProgress(r.Context(), h.redis, payload.TargetActor, info.ID, h.progressTTL, h.logger).Queued()
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{
		TaskID:    info.ID,
		Queue:     info.Queue,
		Actor:     payload.TargetActor.String(),
		StatusURL: "/backfill/runs/" + payload.TargetActor.String(),
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		httpx.RespondError(w, r, fmt.Errorf("%w: progress store not configured", httpx.ErrUnavailable))
		return
	}
	actor, err := uuid.Parse(chi.URLParam(r, "actor"))
	if err != nil {
		httpx.RespondError(w, r, fmt.Errorf("%w: invalid actor id", httpx.ErrValidation))
		return
	}
	snap, err := h.loadSnapshot(r.Context(), actor)
	if errors.Is(err, backfill.ErrNotFound) {
		httpx.RespondError(w, r, fmt.Errorf("%w: no run recorded for %s", httpx.ErrNotFound, actor))
		return
	}
	if err != nil {
		h.logger.Error("load progress", slog.String("actor", actor.String()), slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

// loadSnapshot shares one Redis read between concurrent polls for an actor.
func (h *Handler) loadSnapshot(ctx context.Context, actor uuid.UUID) (backfill.Snapshot, error) {
	ch := h.snapshots.DoChan(actor.String(), func() (any, error) {
		return backfill.LoadSnapshot(context.WithoutCancel(ctx), h.redis, actor)
	})
	select {
	case <-ctx.Done():
		return backfill.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return backfill.Snapshot{}, res.Err
		}
		return res.Val.(backfill.Snapshot), nil
	}
}
