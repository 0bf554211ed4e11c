package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PDFMimeType is the content type of every generated document.
const PDFMimeType = "application/pdf"

// Renderer turns a structured record into document bytes.
type Renderer interface {
	Render(ctx context.Context, kind DocumentType, data any) ([]byte, error)
}

// ObjectStore persists document bytes, overwriting existing objects.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// SaleReceipt is the render model of a sale receipt.
type SaleReceipt struct {
	SaleID        string
	SoldAt        time.Time
	PaymentMethod SalePaymentMethod
	Items         []SaleItem
	Total         decimal.Decimal
	Notes         string
}

// PeriodReport is the render model of a closed daily summary.
type PeriodReport struct {
	Summary     DailySummary
	GeneratedAt time.Time
}

// ExpenseReceipt is the render model of the placeholder receipt kept for an expense.
type ExpenseReceipt struct {
	ExpenseID string
	Expense   Expense
}

// DocumentGenerator renders and stores documents for ledger records that lack one.
type DocumentGenerator struct {
	repo      RepositoryPort
	renderer  Renderer
	store     ObjectStore
	logger    *slog.Logger
	metrics   PhaseRecorder
	now       func() time.Time
	owner     uuid.UUID
	overwrite bool
	failures  []*GenerationError
}

// NewDocumentGenerator wires the generator collaborators.
func NewDocumentGenerator(repo RepositoryPort, renderer Renderer, store ObjectStore, logger *slog.Logger) *DocumentGenerator {
	return &DocumentGenerator{repo: repo, renderer: renderer, store: store, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (g *DocumentGenerator) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// ForRun returns a copy bound to the owner of generated documents. With
// overwrite set, existing documents are rendered again and replaced.
func (g *DocumentGenerator) ForRun(owner uuid.UUID, overwrite bool) *DocumentGenerator {
	clone := *g
	clone.owner = owner
	clone.overwrite = overwrite
	clone.failures = nil
	return &clone
}

// Failures lists the documents skipped because of a generation error.
func (g *DocumentGenerator) Failures() []*GenerationError {
	return g.failures
}

type docCandidate struct {
	key  DocumentKey
	date time.Time
	data any
}

// GenerateSaleReceipts renders a receipt for every sale owned by actor.
func (g *DocumentGenerator) GenerateSaleReceipts(ctx context.Context, actor uuid.UUID) (int, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}
	sales, err := g.repo.ListSales(ctx, actor)
	if err != nil {
		return 0, storeErr("list sales", err)
	}
	candidates := make([]docCandidate, 0, len(sales))
	for _, sale := range sales {
		id := sale.ID.String()
		candidates = append(candidates, docCandidate{
			key:  DocumentKey{Type: DocumentSaleReceipt, ReferenceType: ReferenceSale, ReferenceID: id},
			date: sale.SoldAt,
			data: SaleReceipt{
				SaleID:        id,
				SoldAt:        sale.SoldAt,
				PaymentMethod: sale.PaymentMethod,
				Items:         sale.Items,
				Total:         sale.TotalAmount,
				Notes:         sale.Notes,
			},
		})
	}
	return g.generate(ctx, candidates), nil
}

// GeneratePeriodReports renders a report for every summary closed by actor.
func (g *DocumentGenerator) GeneratePeriodReports(ctx context.Context, actor uuid.UUID) (int, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}
	summaries, err := g.repo.ListClosedSummaries(ctx, actor)
	if err != nil {
		return 0, storeErr("list closed summaries", err)
	}
	candidates := make([]docCandidate, 0, len(summaries))
	for _, summary := range summaries {
		candidates = append(candidates, docCandidate{
			key:  DocumentKey{Type: DocumentPeriodReport, ReferenceType: ReferenceSummary, ReferenceID: DayKey(summary.Date)},
			date: summary.Date,
			data: PeriodReport{Summary: summary, GeneratedAt: g.now()},
		})
	}
	return g.generate(ctx, candidates), nil
}

// GenerateExpenseReceipts renders a placeholder receipt for every expense owned by actor.
func (g *DocumentGenerator) GenerateExpenseReceipts(ctx context.Context, actor uuid.UUID) (int, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}
	expenses, err := g.repo.ListExpenses(ctx, actor)
	if err != nil {
		return 0, storeErr("list expenses", err)
	}
	candidates := make([]docCandidate, 0, len(expenses))
	for _, exp := range expenses {
		id := exp.ID.String()
		candidates = append(candidates, docCandidate{
			key:  DocumentKey{Type: DocumentExpenseReceipt, ReferenceType: ReferenceExpense, ReferenceID: id},
			date: exp.Date,
			data: ExpenseReceipt{ExpenseID: id, Expense: exp},
		})
	}
	return g.generate(ctx, candidates), nil
}

func (g *DocumentGenerator) ready() error {
	if g == nil || g.repo == nil {
		return ErrRepositoryNotInitialised
	}
	if g.renderer == nil || g.store == nil {
		return ErrDocumentsNotConfigured
	}
	return nil
}

func (g *DocumentGenerator) generate(ctx context.Context, candidates []docCandidate) int {
	generated := 0
	for _, c := range candidates {
		if err := g.generateOne(ctx, c); err != nil {
			if errors.Is(err, errDocumentExists) {
				continue
			}
			g.fail(c.key, err)
			continue
		}
		generated++
	}
	return generated
}

var errDocumentExists = errors.New("backfill: document exists")

func (g *DocumentGenerator) generateOne(ctx context.Context, c docCandidate) error {
	exists, err := g.repo.DocumentExists(ctx, c.key)
	if err != nil {
		return &GenerationError{Key: c.key, Stage: "lookup", Err: err}
	}
	if exists && !g.overwrite {
		return errDocumentExists
	}
	body, err := g.renderer.Render(ctx, c.key.Type, c.data)
	if err != nil {
		return &GenerationError{Key: c.key, Stage: "render", Err: err}
	}
	path := c.key.StoragePath(c.date)
	if err := g.store.Put(ctx, path, body, PDFMimeType); err != nil {
		return &GenerationError{Key: c.key, Stage: "upload", Err: err}
	}
	doc := Document{
		ID:           uuid.New(),
		Key:          c.key,
		FileName:     fmt.Sprintf("%s-%s.pdf", c.key.Type, c.key.ReferenceID),
		StoragePath:  path,
		SizeBytes:    int64(len(body)),
		MimeType:     PDFMimeType,
		DocumentDate: DayOf(c.date),
		CreatedBy:    g.owner,
		CreatedAt:    g.now(),
	}
	if err := g.repo.UpsertDocument(ctx, doc); err != nil {
		return &GenerationError{Key: c.key, Stage: "record", Err: err}
	}
	return nil
}

func (g *DocumentGenerator) fail(key DocumentKey, err error) {
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		genErr = &GenerationError{Key: key, Stage: "generate", Err: err}
	}
	g.failures = append(g.failures, genErr)
	if g.metrics != nil {
		g.metrics.DocumentFailed(string(key.Type))
	}
	g.log().Warn("document generation failed",
		slog.String("type", string(key.Type)),
		slog.String("reference_id", key.ReferenceID),
		slog.String("stage", genErr.Stage),
		slog.Any("error", genErr.Err))
}

func (g *DocumentGenerator) log() *slog.Logger {
	if g != nil && g.logger != nil {
		return g.logger
	}
	return slog.Default()
}
