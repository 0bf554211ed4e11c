package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill/memstore"
	"github.com/odyssey-erp/odyssey-backfill/internal/observability"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	actor := uuid.NewString()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BACKFILL_SYSTEM_ACTOR="+actor+"\nDOCUMENT_STORE=local\nBACKFILL_BATCH_SIZE=250\n"), 0o600))
	t.Setenv("BACKFILL_SYSTEM_ACTOR", "")
	require.NoError(t, os.Unsetenv("BACKFILL_SYSTEM_ACTOR"))
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, actor, cfg.SystemActor().String())
	require.Equal(t, 250, cfg.BackfillBatchSize)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidation(t *testing.T) {
	base := Config{
		BackfillSystemActor: uuid.NewString(),
		BackfillBatchSize:   500,
		DocumentStore:       "local",
		DocumentDir:         "./var/documents",
		TimeZone:            "Europe/Zurich",
	}
	require.NoError(t, base.validate())

	bad := base
	bad.BackfillSystemActor = "system"
	require.Error(t, bad.validate())

	bad = base
	bad.DocumentStore = "gcs"
	require.ErrorContains(t, bad.validate(), "GCS_BUCKET")

	bad = base
	bad.DocumentStore = "s3"
	require.Error(t, bad.validate())

	require.Equal(t, "Europe/Zurich", base.Location().String())
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:     &Config{AppEnv: "development"},
		JobHandler: jobs.NewHandler(nil, nil),
		Metrics:    metrics,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"queue":"backfill"`))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "odyssey_http_requests_total")
}

func TestNewPipelineWithoutDocuments(t *testing.T) {
	p, err := NewPipeline(context.Background(), &Config{}, nil, PipelineOptions{Repo: memstore.New()})
	require.NoError(t, err)
	defer p.Close()
	require.NotNil(t, p.Orchestrator)
	require.Nil(t, p.Documents)
}

func TestNewPipelineWithLocalDocuments(t *testing.T) {
	cfg := &Config{
		DocumentStore:  "local",
		DocumentDir:    t.TempDir(),
		GotenbergURL:   "http://127.0.0.1:3000",
		BusinessName:   "Salon",
		DocumentLocale: "de-CH",
		Currency:       "CHF",
		TimeZone:       "UTC",
	}
	p, err := NewPipeline(context.Background(), cfg, nil, PipelineOptions{Repo: memstore.New(), WithDocuments: true})
	require.NoError(t, err)
	defer p.Close()
	require.NotNil(t, p.Documents)
	require.NotNil(t, p.PDF)
}

func TestRouterRateLimitsWithProblem(t *testing.T) {
	var logs bytes.Buffer
	router := NewRouter(RouterParams{
		Logger: slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Config: &Config{AppEnv: "development", AppRateLimit: 1},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "rate limit exceeded")
	require.Contains(t, logs.String(), `"status":429`)
}

func TestInTestModeAcceptsBoolValues(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "nope": false} {
		t.Setenv(testModeEnv, value)
		RefreshTestMode()
		require.Equal(t, want, InTestMode(), value)
	}
}

func TestRouterAnswersUnknownRoutesWithProblem(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{AppEnv: "development"}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `"instance":"/nope"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
