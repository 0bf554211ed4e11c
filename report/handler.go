package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-backfill/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-backfill/internal/storage"
)

type documentOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Handler manages report endpoints.
type Handler struct {
	client    *Client
	documents documentOpener
	logger    *slog.Logger
}

// NewHandler creates a report handler. documents may be nil.
func NewHandler(client *Client, documents documentOpener, logger *slog.Logger) *Handler {
	return &Handler{client: client, documents: documents, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Get("/documents/*", h.document)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		httpx.Problem(w, r, http.StatusServiceUnavailable, "pdf renderer not configured")
		return
	}
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.Problem(w, r, http.StatusServiceUnavailable, "pdf renderer unreachable")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// document streams a stored PDF by its storage path.
func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	if h.documents == nil {
		httpx.Problem(w, r, http.StatusServiceUnavailable, "document store not configured")
		return
	}
	p := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if p == "" || !strings.HasSuffix(p, ".pdf") {
		http.NotFound(w, r)
		return
	}
	rc, err := h.documents.Open(r.Context(), p)
	if errors.Is(err, storage.ErrObjectNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("open document", slog.String("path", p), slog.Any("error", err))
		httpx.Problem(w, r, http.StatusBadGateway, "")
		return
	}
	defer func() {
		_ = rc.Close()
	}()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename="+path.Base(p))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream document", slog.String("path", p), slog.Any("error", err))
	}
}
