package backfill

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort is the storage surface the pipeline depends on.
type RepositoryPort interface {
	CatalogLookup

	ListCatalogNames(ctx context.Context) ([]string, error)
	InsertCatalogItems(ctx context.Context, items []CatalogItem) error

	// InsertSale writes the sale and its items atomically and returns the new id.
	InsertSale(ctx context.Context, sale Sale) (uuid.UUID, error)
	InsertExpenses(ctx context.Context, expenses []Expense) error
	InsertCashMovements(ctx context.Context, movements []CashMovement) error

	RecomputeDailySummary(ctx context.Context, day time.Time) error
	CloseDailySummary(ctx context.Context, day time.Time, actor uuid.UUID, note string, closedAt time.Time) error

	ListSales(ctx context.Context, owner uuid.UUID) ([]Sale, error)
	ListExpenses(ctx context.Context, owner uuid.UUID) ([]Expense, error)
	ListClosedSummaries(ctx context.Context, closedBy uuid.UUID) ([]DailySummary, error)

	DocumentExists(ctx context.Context, key DocumentKey) (bool, error)
	UpsertDocument(ctx context.Context, doc Document) error
}
