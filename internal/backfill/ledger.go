package backfill

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// LedgerImporter writes sales and expenses owned by the target actor.
type LedgerImporter struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewLedgerImporter constructs the importer.
func NewLedgerImporter(repo RepositoryPort, logger *slog.Logger) *LedgerImporter {
	return &LedgerImporter{repo: repo, logger: logger}
}

// ImportSales resolves every line item first so an unknown catalog entry leaves
// nothing written, then inserts the sales one by one. On a store failure the
// count of sales already written is returned with the error.
func (l *LedgerImporter) ImportSales(ctx context.Context, records []SaleRecord, actor uuid.UUID) (int, error) {
	if l == nil || l.repo == nil {
		return 0, ErrRepositoryNotInitialised
	}
	if len(records) == 0 {
		return 0, nil
	}
	resolver := NewResolver(l.repo)
	sales := make([]Sale, 0, len(records))
	for i, rec := range records {
		items := make([]SaleItem, 0, len(rec.LineItems))
		for _, line := range rec.LineItems {
			// Catalog names are stored trimmed, so lookups must be too.
			name := strings.TrimSpace(line.ItemName)
			id, err := resolver.ResolveItemID(ctx, name)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return 0, &ResolutionError{ItemName: name, SaleIndex: i}
				}
				return 0, err
			}
			items = append(items, SaleItem{ItemID: id, ItemName: name, Price: line.Price, Notes: strings.TrimSpace(line.Notes)})
		}
		sales = append(sales, Sale{
			OwnerID:       actor,
			SoldAt:        rec.OccurredAt(),
			TotalAmount:   rec.TotalAmount,
			PaymentMethod: rec.PaymentMethod,
			Notes:         strings.TrimSpace(rec.Notes),
			Items:         items,
		})
	}

	imported := 0
	for _, sale := range sales {
		if _, err := l.repo.InsertSale(ctx, sale); err != nil {
			l.log().Error("insert sale", slog.Time("sold_at", sale.SoldAt), slog.Int("imported", imported), slog.Any("error", err))
			return imported, storeErr("insert sale", err)
		}
		imported++
	}
	l.log().Info("sales imported", slog.Int("count", imported))
	return imported, nil
}

// ImportExpenses writes all expenses in one call; any failure rejects the whole set.
func (l *LedgerImporter) ImportExpenses(ctx context.Context, records []ExpenseRecord, actor uuid.UUID) (int, error) {
	if l == nil || l.repo == nil {
		return 0, ErrRepositoryNotInitialised
	}
	if len(records) == 0 {
		return 0, nil
	}
	expenses := make([]Expense, 0, len(records))
	for _, rec := range records {
		exp := Expense{
			ID:            uuid.New(),
			OwnerID:       actor,
			Date:          DayOf(rec.Date),
			Amount:        rec.Amount,
			Description:   strings.TrimSpace(rec.Description),
			Category:      rec.Category,
			PaymentMethod: rec.PaymentMethod,
		}
		if rec.Supplier != nil {
			exp.SupplierName = strings.TrimSpace(rec.Supplier.Name)
			exp.InvoiceNumber = strings.TrimSpace(rec.Supplier.InvoiceNumber)
		}
		expenses = append(expenses, exp)
	}
	if err := l.repo.InsertExpenses(ctx, expenses); err != nil {
		return 0, storeErr("insert expenses", err)
	}
	l.log().Info("expenses imported", slog.Int("count", len(expenses)))
	return len(expenses), nil
}

func (l *LedgerImporter) log() *slog.Logger {
	if l != nil && l.logger != nil {
		return l.logger
	}
	return slog.Default()
}
