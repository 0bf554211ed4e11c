package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Snapshot is the latest known state of a run, as published to Redis.
type Snapshot struct {
	Actor     string    `json:"actor"`
	TaskID    string    `json:"task_id,omitempty"`
	Percent   int       `json:"percent"`
	Phase     string    `json:"phase"`
	Status    RunStatus `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressKey is the redis key holding the snapshot of an actor's latest run.
func ProgressKey(actor uuid.UUID) string {
	return fmt.Sprintf("backfill:actor:%s:progress", actor)
}

// ProgressChannel is the pub/sub channel snapshots are published on.
func ProgressChannel(actor uuid.UUID) string {
	return fmt.Sprintf("backfill.progress.%s", actor)
}

// RedisProgress stores every update as a snapshot and publishes it.
type RedisProgress struct {
	ctx    context.Context
	client *redis.Client
	actor  uuid.UUID
	taskID string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisProgress constructs a sink for actor's run.
func NewRedisProgress(ctx context.Context, client *redis.Client, actor uuid.UUID, taskID string, ttl time.Duration, logger *slog.Logger) *RedisProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisProgress{ctx: ctx, client: client, actor: actor, taskID: taskID, ttl: ttl, logger: logger, now: time.Now}
}

// OnProgress implements ProgressSink. Redis failures are logged, never propagated.
func (p *RedisProgress) OnProgress(percent int, phase string) {
	p.write(Snapshot{Percent: percent, Phase: phase, Status: StatusProcessing})
}

// Queued records that a run was accepted but has not started.
func (p *RedisProgress) Queued() {
	p.write(Snapshot{Phase: "Queued", Status: StatusIdle})
}

// Complete records the final result of the run.
func (p *RedisProgress) Complete(res Result) {
	phase := PhaseComplete
	if res.FailedPhase != "" {
		phase = res.FailedPhase
	}
	p.write(Snapshot{Percent: 100, Phase: phase, Status: res.Status, Result: &res})
}

func (p *RedisProgress) write(snap Snapshot) {
	if p == nil || p.client == nil {
		return
	}
	snap.Actor = p.actor.String()
	snap.TaskID = p.taskID
	snap.UpdatedAt = p.now().UTC()
	body, err := json.Marshal(snap)
	if err != nil {
		p.logger.Warn("encode progress", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 2*time.Second)
	defer cancel()
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, ProgressKey(p.actor), body, p.ttl)
	pipe.Publish(ctx, ProgressChannel(p.actor), body)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("publish progress", slog.String("actor", snap.Actor), slog.Any("error", err))
	}
}

// LoadSnapshot reads the latest snapshot for actor.
func LoadSnapshot(ctx context.Context, client *redis.Client, actor uuid.UUID) (Snapshot, error) {
	if client == nil {
		return Snapshot{}, errors.New("backfill: redis client required")
	}
	body, err := client.Get(ctx, ProgressKey(actor)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("backfill: decode snapshot: %w", err)
	}
	return snap, nil
}
