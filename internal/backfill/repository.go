package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-backfill/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the import pipeline.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

func (r *Repository) ready() error {
	if r == nil || r.pool == nil {
		return ErrRepositoryNotInitialised
	}
	return nil
}

// ListCatalogNames returns every stored catalog name.
func (r *Repository) ListCatalogNames(ctx context.Context) ([]string, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT name FROM catalog_items`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// InsertCatalogItems writes the items in one transaction.
func (r *Repository) InsertCatalogItems(ctx context.Context, items []CatalogItem) error {
	if err := r.ready(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	const query = `
INSERT INTO catalog_items (id, name, default_price, kind, is_favorite, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, item.ID, item.Name, item.DefaultPrice, string(item.Kind), item.IsFavorite, item.Active, item.CreatedAt)
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return db.ExecBatch(ctx, tx, batch)
	})
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// FindCatalogItemID returns the oldest catalog row with exactly this name.
func (r *Repository) FindCatalogItemID(ctx context.Context, name string) (uuid.UUID, error) {
	if err := r.ready(); err != nil {
		return uuid.Nil, err
	}
	const query = `SELECT id FROM catalog_items WHERE name = $1 ORDER BY created_at, id LIMIT 1`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, name).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// InsertSale writes the sale row and its items in one transaction.
func (r *Repository) InsertSale(ctx context.Context, sale Sale) (uuid.UUID, error) {
	if err := r.ready(); err != nil {
		return uuid.Nil, err
	}
	id := sale.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	const saleQuery = `
INSERT INTO sales (id, owner_id, sold_at, total_amount, payment_method, notes, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW())`
	const itemQuery = `
INSERT INTO sale_items (sale_id, position, item_id, price, notes)
VALUES ($1, $2, $3, $4, NULLIF($5, ''))`
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, saleQuery, id, sale.OwnerID, sale.SoldAt, sale.TotalAmount, string(sale.PaymentMethod), sale.Notes); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, item := range sale.Items {
			batch.Queue(itemQuery, id, i+1, item.ItemID, item.Price, item.Notes)
		}
		return db.ExecBatch(ctx, tx, batch)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// InsertExpenses writes all expenses atomically.
func (r *Repository) InsertExpenses(ctx context.Context, expenses []Expense) error {
	if err := r.ready(); err != nil {
		return err
	}
	if len(expenses) == 0 {
		return nil
	}
	const query = `
INSERT INTO expenses (id, owner_id, expense_date, amount, description, category, payment_method, supplier_name, invoice_number, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NOW())`
	batch := &pgx.Batch{}
	for _, exp := range expenses {
		id := exp.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(query, id, exp.OwnerID, exp.Date, exp.Amount, exp.Description, string(exp.Category), string(exp.PaymentMethod), exp.SupplierName, exp.InvoiceNumber)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return db.ExecBatch(ctx, tx, batch)
	})
}

// InsertCashMovements writes all movements atomically.
func (r *Repository) InsertCashMovements(ctx context.Context, movements []CashMovement) error {
	if err := r.ready(); err != nil {
		return err
	}
	if len(movements) == 0 {
		return nil
	}
	const query = `
INSERT INTO cash_movements (id, owner_id, amount, direction, description, reference_type, reference_id, occurred_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(query, uuid.New(), m.OwnerID, m.Amount, string(m.Direction), m.Description, string(m.ReferenceType), m.ReferenceID, m.OccurredAt)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return db.ExecBatch(ctx, tx, batch)
	})
}

// RecomputeDailySummary calls the day aggregation procedure. It creates the
// summary row when missing and overwrites totals otherwise.
func (r *Repository) RecomputeDailySummary(ctx context.Context, day time.Time) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `SELECT recompute_daily_summary($1::date)`, DayOf(day))
	return err
}

// CloseDailySummary forces the summary of day to closed.
func (r *Repository) CloseDailySummary(ctx context.Context, day time.Time, actor uuid.UUID, note string, closedAt time.Time) error {
	if err := r.ready(); err != nil {
		return err
	}
	const query = `
UPDATE daily_summaries
SET status = 'closed', closed_by = $2, closed_at = $3, notes = $4, updated_at = NOW()
WHERE summary_date = $1::date`
	tag, err := r.pool.Exec(ctx, query, DayOf(day), actor, closedAt, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("summary %s: %w", DayKey(day), ErrNotFound)
	}
	return nil
}

// ListSales returns the sales owned by owner with their items, oldest first.
func (r *Repository) ListSales(ctx context.Context, owner uuid.UUID) ([]Sale, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, owner_id, sold_at, total_amount, payment_method, COALESCE(notes, '')
FROM sales WHERE owner_id = $1 ORDER BY sold_at, id`, owner)
	if err != nil {
		return nil, err
	}
	sales, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sale, error) {
		var s Sale
		var method string
		err := row.Scan(&s.ID, &s.OwnerID, &s.SoldAt, &s.TotalAmount, &method, &s.Notes)
		s.PaymentMethod = SalePaymentMethod(method)
		return s, err
	})
	if err != nil || len(sales) == 0 {
		return sales, err
	}

	ids := make([]uuid.UUID, len(sales))
	index := make(map[uuid.UUID]int, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
		index[s.ID] = i
	}
	itemRows, err := r.pool.Query(ctx, `
SELECT si.sale_id, si.item_id, c.name, c.kind, si.price, COALESCE(si.notes, '')
FROM sale_items si
JOIN catalog_items c ON c.id = si.item_id
WHERE si.sale_id = ANY($1)
ORDER BY si.sale_id, si.position`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var saleID uuid.UUID
		var item SaleItem
		var kind string
		if err := itemRows.Scan(&saleID, &item.ItemID, &item.ItemName, &kind, &item.Price, &item.Notes); err != nil {
			return nil, err
		}
		item.Kind = ItemKind(kind)
		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	return sales, itemRows.Err()
}

// ListExpenses returns the expenses owned by owner, oldest first.
func (r *Repository) ListExpenses(ctx context.Context, owner uuid.UUID) ([]Expense, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, owner_id, expense_date, amount, description, category, payment_method,
       COALESCE(supplier_name, ''), COALESCE(invoice_number, '')
FROM expenses WHERE owner_id = $1 ORDER BY expense_date, id`, owner)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Expense, error) {
		var e Expense
		var category, method string
		err := row.Scan(&e.ID, &e.OwnerID, &e.Date, &e.Amount, &e.Description, &category, &method, &e.SupplierName, &e.InvoiceNumber)
		e.Category = ExpenseCategory(category)
		e.PaymentMethod = ExpensePaymentMethod(method)
		return e, err
	})
}

// ListClosedSummaries returns the summaries closed by the given actor, ascending by date.
func (r *Repository) ListClosedSummaries(ctx context.Context, closedBy uuid.UUID) ([]DailySummary, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT summary_date, cash_total, twint_total, card_total, service_total, product_total,
       revenue, expense_total, transaction_count, status, closed_by, closed_at, COALESCE(notes, '')
FROM daily_summaries
WHERE status = 'closed' AND closed_by = $1
ORDER BY summary_date`, closedBy)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DailySummary, error) {
		var s DailySummary
		var status string
		err := row.Scan(&s.Date, &s.CashTotal, &s.TwintTotal, &s.CardTotal, &s.ServiceTotal, &s.ProductTotal,
			&s.Revenue, &s.ExpenseTotal, &s.TransactionCount, &status, &s.ClosedBy, &s.ClosedAt, &s.Notes)
		s.Status = SummaryStatus(status)
		return s, err
	})
}

// DocumentExists reports whether a document row exists for key.
func (r *Repository) DocumentExists(ctx context.Context, key DocumentKey) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	const query = `
SELECT EXISTS (
	SELECT 1 FROM documents WHERE type = $1 AND reference_type = $2 AND reference_id = $3
)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, string(key.Type), string(key.ReferenceType), key.ReferenceID).Scan(&exists)
	return exists, err
}

// UpsertDocument inserts the document row or replaces the one stored for its key.
func (r *Repository) UpsertDocument(ctx context.Context, doc Document) error {
	if err := r.ready(); err != nil {
		return err
	}
	const query = `
INSERT INTO documents (id, type, reference_type, reference_id, file_name, storage_path, size_bytes, mime_type, document_date, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (type, reference_type, reference_id)
DO UPDATE SET file_name = EXCLUDED.file_name, storage_path = EXCLUDED.storage_path,
	size_bytes = EXCLUDED.size_bytes, mime_type = EXCLUDED.mime_type,
	document_date = EXCLUDED.document_date, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, doc.ID, string(doc.Key.Type), string(doc.Key.ReferenceType), doc.Key.ReferenceID,
		doc.FileName, doc.StoragePath, doc.SizeBytes, doc.MimeType, doc.DocumentDate, doc.CreatedBy, doc.CreatedAt)
	return err
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
