package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	jobmetrics "github.com/odyssey-erp/odyssey-backfill/internal/jobs"
	"github.com/odyssey-erp/odyssey-backfill/internal/storage"
	"github.com/odyssey-erp/odyssey-backfill/report"
)

// Pipeline bundles the import orchestrator with its document collaborators.
type Pipeline struct {
	Orchestrator *backfill.Orchestrator
	Documents    storage.Store
	PDF          *report.Client
	closeStore   func() error
}

// PipelineOptions selects what the pipeline is wired with.
type PipelineOptions struct {
	Repo backfill.RepositoryPort
	// WithDocuments wires Gotenberg and the document store.
	WithDocuments bool
	Metrics       *jobmetrics.Metrics
}

// NewPipeline builds the orchestrator for repo, configured from cfg.
func NewPipeline(ctx context.Context, cfg *Config, logger *slog.Logger, opts PipelineOptions) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config required")
	}
	p := &Pipeline{closeStore: func() error { return nil }}
	orchCfg := backfill.OrchestratorConfig{
		Repo:    opts.Repo,
		Logger:  logger,
		Metrics: opts.Metrics,
	}
	if opts.WithDocuments {
		store, closeStore, err := storage.New(ctx, storage.Options{
			Driver:          cfg.DocumentStore,
			Dir:             cfg.DocumentDir,
			Bucket:          cfg.GCSBucket,
			Prefix:          cfg.GCSPrefix,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		p.Documents = store
		p.closeStore = closeStore

		p.PDF = report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
		renderer, err := report.NewDocumentRenderer(p.PDF, report.RendererConfig{
			BusinessName: cfg.BusinessName,
			Currency:     cfg.Currency,
			Locale:       cfg.DocumentLocale,
			Location:     cfg.Location(),
		})
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		orchCfg.Renderer = renderer
		orchCfg.Store = store
	}
	orch, err := backfill.NewOrchestrator(orchCfg)
	if err != nil {
		_ = p.closeStore()
		return nil, err
	}
	p.Orchestrator = orch
	return p, nil
}

// Close releases the document store.
func (p *Pipeline) Close() error {
	if p == nil || p.closeStore == nil {
		return nil
	}
	return p.closeStore()
}
