package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	backfillhttp "github.com/odyssey-erp/odyssey-backfill/internal/backfill/http"
	"github.com/odyssey-erp/odyssey-backfill/internal/observability"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
	"github.com/odyssey-erp/odyssey-backfill/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	BackfillHandler *backfillhttp.Handler
	ReportHandler   *report.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter builds the API router. Unknown routes answer with problem bodies.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, r, http.StatusNotFound, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, r, http.StatusMethodNotAllowed, "")
	})

	if params.BackfillHandler != nil {
		params.BackfillHandler.MountRoutes(r)
	}
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
