// Package memstore keeps the import pipeline's data in process memory. It
// mirrors the PostgreSQL repository and is used for rehearsal runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
)

// Store is an in-memory backfill.RepositoryPort.
type Store struct {
	mu        sync.RWMutex
	catalog   []backfill.CatalogItem
	sales     []backfill.Sale
	expenses  []backfill.Expense
	movements []backfill.CashMovement
	summaries map[string]*backfill.DailySummary
	documents map[backfill.DocumentKey]backfill.Document
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		summaries: make(map[string]*backfill.DailySummary),
		documents: make(map[backfill.DocumentKey]backfill.Document),
	}
}

var _ backfill.RepositoryPort = (*Store)(nil)

// ListCatalogNames implements backfill.RepositoryPort.
func (s *Store) ListCatalogNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.catalog))
	for i, item := range s.catalog {
		names[i] = item.Name
	}
	return names, nil
}

// InsertCatalogItems implements backfill.RepositoryPort. Names are unique case-insensitively.
func (s *Store) InsertCatalogItems(ctx context.Context, items []backfill.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := make(map[string]struct{}, len(s.catalog)+len(items))
	for _, item := range s.catalog {
		taken[strings.ToLower(item.Name)] = struct{}{}
	}
	for _, item := range items {
		key := strings.ToLower(item.Name)
		if _, ok := taken[key]; ok {
			return fmt.Errorf("catalog item %q: %w", item.Name, backfill.ErrDuplicate)
		}
		taken[key] = struct{}{}
	}
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		s.catalog = append(s.catalog, item)
	}
	return nil
}

// SeedCatalog appends items without the uniqueness check, allowing duplicate names.
func (s *Store) SeedCatalog(items ...backfill.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		s.catalog = append(s.catalog, item)
	}
}

// FindCatalogItemID implements backfill.RepositoryPort; the first inserted match wins.
func (s *Store) FindCatalogItemID(ctx context.Context, name string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.catalog {
		if item.Name == name {
			return item.ID, nil
		}
	}
	return uuid.Nil, backfill.ErrNotFound
}

// InsertSale implements backfill.RepositoryPort.
func (s *Store) InsertSale(ctx context.Context, sale backfill.Sale) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	items := make([]backfill.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		cat, ok := s.catalogByID(item.ItemID)
		if !ok {
			return uuid.Nil, fmt.Errorf("sale item %q: catalog id %s: %w", item.ItemName, item.ItemID, backfill.ErrNotFound)
		}
		item.ItemName = cat.Name
		item.Kind = cat.Kind
		items[i] = item
	}
	sale.Items = items
	s.sales = append(s.sales, sale)
	return sale.ID, nil
}

// InsertExpenses implements backfill.RepositoryPort.
func (s *Store) InsertExpenses(ctx context.Context, expenses []backfill.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exp := range expenses {
		if exp.ID == uuid.Nil {
			exp.ID = uuid.New()
		}
		s.expenses = append(s.expenses, exp)
	}
	return nil
}

// InsertCashMovements implements backfill.RepositoryPort.
func (s *Store) InsertCashMovements(ctx context.Context, movements []backfill.CashMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, movements...)
	return nil
}

// RecomputeDailySummary rebuilds the totals of day from the stored ledger.
// Revenue takes the larger of the payment method total and the item kind
// total when the two disagree.
func (s *Store) RecomputeDailySummary(ctx context.Context, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = backfill.DayOf(day)
	key := backfill.DayKey(day)
	summary, ok := s.summaries[key]
	if !ok {
		summary = &backfill.DailySummary{Date: day, Status: backfill.SummaryOpen}
		s.summaries[key] = summary
	}
	var cash, twint, card, service, product, spent decimal.Decimal
	count := 0
	for _, sale := range s.sales {
		if backfill.DayKey(sale.SoldAt) != key {
			continue
		}
		count++
		switch sale.PaymentMethod {
		case backfill.SalePaymentCash:
			cash = cash.Add(sale.TotalAmount)
		case backfill.SalePaymentTwint:
			twint = twint.Add(sale.TotalAmount)
		case backfill.SalePaymentCard:
			card = card.Add(sale.TotalAmount)
		}
		for _, item := range sale.Items {
			if item.Kind == backfill.ItemKindProduct {
				product = product.Add(item.Price)
			} else {
				service = service.Add(item.Price)
			}
		}
	}
	for _, exp := range s.expenses {
		if backfill.DayKey(exp.Date) == key {
			spent = spent.Add(exp.Amount)
		}
	}
	byMethod := cash.Add(twint).Add(card)
	byKind := service.Add(product)
	summary.CashTotal = cash
	summary.TwintTotal = twint
	summary.CardTotal = card
	summary.ServiceTotal = service
	summary.ProductTotal = product
	summary.Revenue = decimal.Max(byMethod, byKind)
	summary.ExpenseTotal = spent
	summary.TransactionCount = count
	return nil
}

// CloseDailySummary implements backfill.RepositoryPort.
func (s *Store) CloseDailySummary(ctx context.Context, day time.Time, actor uuid.UUID, note string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[backfill.DayKey(day)]
	if !ok {
		return fmt.Errorf("summary %s: %w", backfill.DayKey(day), backfill.ErrNotFound)
	}
	at := closedAt
	summary.Status = backfill.SummaryClosed
	summary.ClosedBy = uuid.NullUUID{UUID: actor, Valid: true}
	summary.ClosedAt = &at
	summary.Notes = note
	return nil
}

// ListSales implements backfill.RepositoryPort.
func (s *Store) ListSales(ctx context.Context, owner uuid.UUID) ([]backfill.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backfill.Sale
	for _, sale := range s.sales {
		if sale.OwnerID == owner {
			out = append(out, sale)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SoldAt.Before(out[j].SoldAt) })
	return out, nil
}

// ListExpenses implements backfill.RepositoryPort.
func (s *Store) ListExpenses(ctx context.Context, owner uuid.UUID) ([]backfill.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backfill.Expense
	for _, exp := range s.expenses {
		if exp.OwnerID == owner {
			out = append(out, exp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ListClosedSummaries implements backfill.RepositoryPort.
func (s *Store) ListClosedSummaries(ctx context.Context, closedBy uuid.UUID) ([]backfill.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backfill.DailySummary
	for _, summary := range s.summaries {
		if summary.Status == backfill.SummaryClosed && summary.ClosedBy.Valid && summary.ClosedBy.UUID == closedBy {
			out = append(out, *summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// DocumentExists implements backfill.RepositoryPort.
func (s *Store) DocumentExists(ctx context.Context, key backfill.DocumentKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.documents[key]
	return ok, nil
}

// UpsertDocument implements backfill.RepositoryPort.
func (s *Store) UpsertDocument(ctx context.Context, doc backfill.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.documents[doc.Key]; ok {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
	}
	s.documents[doc.Key] = doc
	return nil
}

// Snapshot is a copy of the store contents.
type Snapshot struct {
	Catalog       []backfill.CatalogItem
	Sales         []backfill.Sale
	Expenses      []backfill.Expense
	CashMovements []backfill.CashMovement
	Summaries     []backfill.DailySummary
	Documents     []backfill.Document
}

// Snapshot copies the current contents for inspection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Catalog:       append([]backfill.CatalogItem(nil), s.catalog...),
		Sales:         append([]backfill.Sale(nil), s.sales...),
		Expenses:      append([]backfill.Expense(nil), s.expenses...),
		CashMovements: append([]backfill.CashMovement(nil), s.movements...),
	}
	for _, summary := range s.summaries {
		snap.Summaries = append(snap.Summaries, *summary)
	}
	sort.Slice(snap.Summaries, func(i, j int) bool { return snap.Summaries[i].Date.Before(snap.Summaries[j].Date) })
	for _, doc := range s.documents {
		snap.Documents = append(snap.Documents, doc)
	}
	sort.Slice(snap.Documents, func(i, j int) bool { return snap.Documents[i].StoragePath < snap.Documents[j].StoragePath })
	return snap
}

func (s *Store) catalogByID(id uuid.UUID) (backfill.CatalogItem, bool) {
	for _, item := range s.catalog {
		if item.ID == id {
			return item, true
		}
	}
	return backfill.CatalogItem{}, false
}
