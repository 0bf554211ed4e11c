package backfillhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/backfill/memstore"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
)

type stubQueue struct {
	payloads []jobs.BackfillRunPayload
}

func (q *stubQueue) EnqueueBackfill(_ context.Context, payload jobs.BackfillRunPayload) (*asynq.TaskInfo, error) {
	if _, err := jobs.NewBackfillRunTask(payload); err != nil {
		return nil, err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueBackfill}, nil
}

type fixture struct {
	router http.Handler
	store  *memstore.Store
	queue  *stubQueue
	redis  *redis.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch, err := backfill.NewOrchestrator(backfill.OrchestratorConfig{Repo: store, Logger: logger})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := &stubQueue{}
	h := NewHandler(Config{
		Logger:      logger,
		Runner:      orch,
		Queue:       queue,
		Redis:       client,
		SystemActor: uuid.New(),
	})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return fixture{router: r, store: store, queue: queue, redis: client}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestDryRunReportsPlannedCounts(t *testing.T) {
	f := newFixture(t)
	body := `{
	  "target_actor": "` + uuid.NewString() + `",
	  "extract": {
	    "catalog": [{"name": "Haircut", "default_price": "45.00", "kind": "service"}],
	    "sales": [{"date": "2024-03-01", "time": "10:00", "total_amount": "45.00", "payment_method": "cash",
	               "line_items": [{"item_name": "Haircut", "price": "45.00"}]}],
	    "expenses": [{"date": "2024-03-02", "amount": "10", "description": "Coffee", "category": "supplies", "payment_method": "cash"}]
	  }
	}`
	rec := f.do(t, http.MethodPost, "/backfill/dry-run", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res backfill.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, backfill.StatusSuccess, res.Status)
	require.True(t, res.DryRun)
	require.NotNil(t, res.Results)
	require.Equal(t, 1, res.Results.SalesImported)
	require.Equal(t, 2, res.Results.CashMovementsGenerated)
	require.Equal(t, 2, res.Results.SummariesClosed)

	snap := f.store.Snapshot()
	require.Empty(t, snap.Sales)
	require.Empty(t, snap.Catalog)
}

func TestDryRunReturnsValidationErrors(t *testing.T) {
	f := newFixture(t)
	body := `{"target_actor": "` + uuid.NewString() + `", "extract": {"sales": [{"date": "2024-03-01", "total_amount": "19.00", "payment_method": "cash",
	  "line_items": [{"item_name": "Haircut", "price": "18.95"}]}]}}`
	rec := f.do(t, http.MethodPost, "/backfill/dry-run", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var res backfill.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, backfill.StatusError, res.Status)
	require.NotEmpty(t, res.Errors)
	require.Contains(t, strings.Join(res.Errors, "\n"), "does not match")
}

func TestDryRunRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/backfill/dry-run", `{"extract": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid request")
}

func TestEnqueueRecordsQueuedSnapshot(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	rec := f.do(t, http.MethodPost, "/backfill/runs", `{"extract_uri": "gs://imports/history.xlsx", "target_actor": "`+actor.String()+`", "generate_documents": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.queue.payloads, 1)
	require.True(t, f.queue.payloads[0].GenerateDocuments)

	rec = f.do(t, http.MethodGet, "/backfill/runs/"+actor.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap backfill.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, backfill.StatusIdle, snap.Status)
	require.Equal(t, "task-1", snap.TaskID)
}

func TestEnqueueRejectsRunningActor(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	backfill.NewRedisProgress(context.Background(), f.redis, actor, "t0", 0, nil).OnProgress(40, backfill.PhaseSales)

	rec := f.do(t, http.MethodPost, "/backfill/runs", `{"extract_uri": "a.json", "target_actor": "`+actor.String()+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, f.queue.payloads)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/backfill/runs", `{"target_actor": "`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknownActor(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/backfill/runs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/backfill/runs/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
