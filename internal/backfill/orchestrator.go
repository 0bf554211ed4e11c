package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Phase labels reported to progress sinks.
const (
	PhaseStarting      = "Starting"
	PhaseValidation    = "Validating records"
	PhaseCatalog       = "Importing catalog"
	PhaseSales         = "Importing sales"
	PhaseExpenses      = "Importing expenses"
	PhaseCashMovements = "Generating cash movements"
	PhaseSummaries     = "Closing daily summaries"
	PhaseDocuments     = "Generating documents"
	PhaseDryRun        = "Dry run complete"
	PhaseComplete      = "Import complete"
)

// OrchestratorConfig collects the collaborators of an orchestrator.
type OrchestratorConfig struct {
	Repo     RepositoryPort
	Renderer Renderer
	Store    ObjectStore
	Logger   *slog.Logger
	Metrics  PhaseRecorder
}

// Orchestrator sequences the import phases of a batch.
type Orchestrator struct {
	validator *Validator
	catalog   *CatalogImporter
	ledger    *LedgerImporter
	deriver   *Deriver
	documents *DocumentGenerator
	logger    *slog.Logger
	metrics   PhaseRecorder
	now       func() time.Time
}

// NewOrchestrator wires the pipeline. Renderer and Store may be nil when the
// caller never requests documents.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Repo == nil {
		return nil, ErrRepositoryNotInitialised
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "backfill"))
	o := &Orchestrator{
		validator: NewValidator(),
		catalog:   NewCatalogImporter(cfg.Repo, logger),
		ledger:    NewLedgerImporter(cfg.Repo, logger),
		deriver:   NewDeriver(cfg.Repo, logger),
		logger:    logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	if cfg.Renderer != nil && cfg.Store != nil {
		o.documents = NewDocumentGenerator(cfg.Repo, cfg.Renderer, cfg.Store, logger)
		o.documents.metrics = cfg.Metrics
	}
	return o, nil
}

// WithNow overrides the clock for deterministic tests.
func (o *Orchestrator) WithNow(now func() time.Time) {
	if now == nil {
		return
	}
	o.now = now
	o.catalog.now = now
	o.deriver.WithNow(now)
	if o.documents != nil {
		o.documents.WithNow(now)
	}
}

// Validate runs the same checks a real run performs, without touching the store.
func (o *Orchestrator) Validate(batch ImportBatch) ValidationResult {
	return o.validator.Validate(batch)
}

// Plan reports the counts a valid batch would produce against an empty store.
// Catalog rows whose names are already stored are skipped by a real run, so
// ItemsImported is an upper bound.
func Plan(batch ImportBatch) *Counts {
	days := len(AffectedDays(batch.Sales, batch.Expenses))
	counts := &Counts{
		ItemsImported:          len(batch.Catalog),
		SalesImported:          len(batch.Sales),
		ExpensesImported:       len(batch.Expenses),
		CashMovementsGenerated: len(CashMovementsFor(batch.Sales, batch.Expenses, batch.TargetActor)),
		SummariesClosed:        days,
	}
	if batch.GenerateMissingDocuments {
		counts.DocumentsGenerated = len(batch.Sales) + len(batch.Expenses) + days
	}
	return counts
}

type step struct {
	label   string
	percent int
	run     func(ctx context.Context) error
}

// Run executes the batch. Phases run strictly in order; a failing phase stops
// the run while earlier phases stay committed. Cancellation is honoured
// between phases.
func (o *Orchestrator) Run(ctx context.Context, batch ImportBatch, sink ProgressSink) Result {
	started := o.now()
	progress := &monotonicSink{next: sink}
	counts := &Counts{}
	res := Result{Status: StatusProcessing, DryRun: batch.DryRun, Errors: []string{}}
	finish := func(status RunStatus) Result {
		counts.ElapsedMs = o.now().Sub(started).Milliseconds()
		res.Status = status
		res.Results = counts
		return res
	}
	log := o.logger.With(slog.String("target_actor", batch.TargetActor.String()), slog.Bool("dry_run", batch.DryRun))
	progress.report(0, PhaseStarting)

	validation := o.validator.Validate(batch)
	o.observe(PhaseValidation, started, validation.Err())
	if !validation.OK() {
		log.Warn("batch rejected", slog.Int("problems", len(validation.Errors)))
		res.Errors = append(res.Errors, validation.Errors...)
		res.FailedPhase = PhaseValidation
		return finish(StatusError)
	}
	if batch.GenerateMissingDocuments && o.documents == nil {
		res.Errors = append(res.Errors, ErrDocumentsNotConfigured.Error())
		res.FailedPhase = PhaseValidation
		return finish(StatusError)
	}
	progress.report(10, PhaseValidation)

	if batch.DryRun {
		counts = Plan(batch)
		progress.report(100, PhaseDryRun)
		log.Info("dry run complete", slog.Int("sales", counts.SalesImported), slog.Int("expenses", counts.ExpensesImported))
		return finish(StatusSuccess)
	}

	steps := []step{
		{label: PhaseCatalog, percent: 25, run: func(ctx context.Context) error {
			n, err := o.catalog.ImportCatalog(ctx, batch.Catalog, batch.batchSize())
			counts.ItemsImported = n
			o.addRecords("catalog", n)
			return err
		}},
		{label: PhaseSales, percent: 45, run: func(ctx context.Context) error {
			n, err := o.ledger.ImportSales(ctx, batch.Sales, batch.TargetActor)
			counts.SalesImported = n
			o.addRecords("sale", n)
			return err
		}},
		{label: PhaseExpenses, percent: 55, run: func(ctx context.Context) error {
			n, err := o.ledger.ImportExpenses(ctx, batch.Expenses, batch.TargetActor)
			counts.ExpensesImported = n
			o.addRecords("expense", n)
			return err
		}},
		{label: PhaseCashMovements, percent: 65, run: func(ctx context.Context) error {
			n, err := o.deriver.GenerateCashMovements(ctx, batch.Sales, batch.Expenses, batch.TargetActor)
			counts.CashMovementsGenerated = n
			o.addRecords("cash_movement", n)
			return err
		}},
		{label: PhaseSummaries, percent: 80, run: func(ctx context.Context) error {
			n, err := o.deriver.CalculateAndCloseSummaries(ctx, batch.Sales, batch.Expenses, batch.SystemActor)
			counts.SummariesClosed = n
			o.addRecords("summary", n)
			return err
		}},
	}
	if batch.GenerateMissingDocuments {
		steps = append(steps, step{label: PhaseDocuments, percent: 95, run: func(ctx context.Context) error {
			n, warnings, err := o.generateDocuments(ctx, batch)
			counts.DocumentsGenerated = n
			res.Warnings = warnings
			o.addRecords("document", n)
			return err
		}})
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", slog.String("before_phase", st.label))
			res.Errors = append(res.Errors, fmt.Sprintf("cancelled before %s: %v", st.label, err))
			res.FailedPhase = st.label
			return finish(StatusError)
		}
		phaseStart := o.now()
		err := st.run(ctx)
		o.observe(st.label, phaseStart, err)
		if err != nil {
			log.Error("phase failed", slog.String("phase", st.label), slog.Any("error", err))
			res.Errors = append(res.Errors, err.Error())
			res.FailedPhase = st.label
			return finish(StatusError)
		}
		progress.report(st.percent, st.label)
	}

	progress.report(100, PhaseComplete)
	out := finish(StatusSuccess)
	log.Info("import complete",
		slog.Int("items", counts.ItemsImported),
		slog.Int("sales", counts.SalesImported),
		slog.Int("expenses", counts.ExpensesImported),
		slog.Int("cash_movements", counts.CashMovementsGenerated),
		slog.Int("summaries", counts.SummariesClosed),
		slog.Int("documents", counts.DocumentsGenerated),
		slog.Int64("elapsed_ms", counts.ElapsedMs))
	return out
}

// generateDocuments runs the three sub-phases. A sub-phase whose initial read
// fails is reported, the others still run.
func (o *Orchestrator) generateDocuments(ctx context.Context, batch ImportBatch) (int, []string, error) {
	if o.documents == nil {
		return 0, nil, ErrDocumentsNotConfigured
	}
	gen := o.documents.ForRun(batch.SystemActor, batch.OverwriteExisting)
	total := 0
	var errs []error
	for _, sub := range []struct {
		name string
		run  func() (int, error)
	}{
		{"sale receipts", func() (int, error) { return gen.GenerateSaleReceipts(ctx, batch.TargetActor) }},
		{"period reports", func() (int, error) { return gen.GeneratePeriodReports(ctx, batch.SystemActor) }},
		{"expense receipts", func() (int, error) { return gen.GenerateExpenseReceipts(ctx, batch.TargetActor) }},
	} {
		n, err := sub.run()
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	var warnings []string
	for _, f := range gen.Failures() {
		warnings = append(warnings, f.Error())
	}
	return total, warnings, errors.Join(errs...)
}

func (o *Orchestrator) observe(phase string, started time.Time, err error) {
	if o.metrics != nil {
		o.metrics.ObservePhase(phase, o.now().Sub(started), err)
	}
}

func (o *Orchestrator) addRecords(kind string, n int) {
	if o.metrics != nil && n > 0 {
		o.metrics.AddRecords(kind, n)
	}
}
