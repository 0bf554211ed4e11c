package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backfill/internal/shared"
)

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func serveHealth(t *testing.T, h *Handler) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rec
}

func TestHealthReportsQueueInfo(t *testing.T) {
	h := &Handler{
		inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueBackfill, Pending: 3, Active: 1, Retry: 2, Latency: 1500 * time.Millisecond}},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	rec := serveHealth(t, h)
	require.Equal(t, http.StatusOK, rec.Code)

	var body QueueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueHealth{Queue: QueueBackfill, Pending: 3, Active: 1, Retry: 2, LatencyMs: 1500}, body)
}

func TestHealthTreatsUnknownQueueAsEmpty(t *testing.T) {
	h := &Handler{inspector: stubInspector{err: asynq.ErrQueueNotFound}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	rec := serveHealth(t, h)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"backfill","pending":0,"active":0,"retry":0,"archived":0,"paused":false,"latency_ms":0}`, rec.Body.String())
}

func TestHealthUnavailableOnRedisError(t *testing.T) {
	h := &Handler{inspector: stubInspector{err: errors.New("dial tcp: refused")}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	rec := serveHealth(t, h)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestNewHandlerWithoutInspector(t *testing.T) {
	rec := serveHealth(t, NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"backfill"`)
}

func TestLockedRunsAreNotFailures(t *testing.T) {
	locked := fmt.Errorf("%w: %w", asynq.SkipRetry, fmt.Errorf("backfill:actor:x:lock: %w", shared.ErrLockHeld))
	require.False(t, isFailure(locked))
	require.True(t, isFailure(errors.New("insert sale: conn reset")))
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Handlers: []TaskHandler{{Type: TaskBackfillRun}}})
	require.Error(t, err)
}
