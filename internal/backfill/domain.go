package backfill

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultBatchSize bounds catalog insert chunks when the batch does not set one.
const DefaultBatchSize = 500

// ItemKind classifies catalog entries.
type ItemKind string

const (
	ItemKindService ItemKind = "service"
	ItemKindProduct ItemKind = "product"
)

// SalePaymentMethod enumerates how a sale was settled.
type SalePaymentMethod string

const (
	SalePaymentCash  SalePaymentMethod = "cash"
	SalePaymentTwint SalePaymentMethod = "twint"
	SalePaymentCard  SalePaymentMethod = "card"
)

// ExpensePaymentMethod enumerates how an expense was settled.
type ExpensePaymentMethod string

const (
	ExpensePaymentBank ExpensePaymentMethod = "bank"
	ExpensePaymentCash ExpensePaymentMethod = "cash"
)

// ExpenseCategory is the closed set of bookkeeping categories.
type ExpenseCategory string

const (
	CategoryRent      ExpenseCategory = "rent"
	CategoryUtilities ExpenseCategory = "utilities"
	CategorySupplies  ExpenseCategory = "supplies"
	CategoryEquipment ExpenseCategory = "equipment"
	CategoryMarketing ExpenseCategory = "marketing"
	CategoryInsurance ExpenseCategory = "insurance"
	CategorySalaries  ExpenseCategory = "salaries"
	CategoryTaxes     ExpenseCategory = "taxes"
	CategoryFees      ExpenseCategory = "fees"
	CategoryOther     ExpenseCategory = "other"
)

// Direction of a cash movement.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ReferenceType names the ledger entity a derived artefact points to.
type ReferenceType string

const (
	ReferenceSale    ReferenceType = "sale"
	ReferenceExpense ReferenceType = "expense"
	ReferenceSummary ReferenceType = "daily_summary"
)

// SummaryStatus captures the state of a daily summary.
type SummaryStatus string

const (
	SummaryOpen   SummaryStatus = "open"
	SummaryClosed SummaryStatus = "closed"
)

// DocumentType doubles as the renderer template kind.
type DocumentType string

const (
	DocumentSaleReceipt    DocumentType = "sale_receipt"
	DocumentPeriodReport   DocumentType = "period_report"
	DocumentExpenseReceipt DocumentType = "expense_receipt"
)

// RunStatus reports the lifecycle of an import run.
type RunStatus string

const (
	StatusIdle       RunStatus = "idle"
	StatusProcessing RunStatus = "processing"
	StatusSuccess    RunStatus = "success"
	StatusError      RunStatus = "error"
)

// ImportBatch is the unit of work for one invocation. It is never persisted.
type ImportBatch struct {
	DryRun                   bool
	BatchSize                int
	TargetActor              uuid.UUID
	SystemActor              uuid.UUID
	GenerateMissingDocuments bool
	OverwriteExisting        bool

	Catalog  []CatalogRecord
	Sales    []SaleRecord
	Expenses []ExpenseRecord
}

func (b ImportBatch) batchSize() int {
	if b.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return b.BatchSize
}

// CatalogRecord is a catalog entry as supplied by the extract.
type CatalogRecord struct {
	Name         string          `json:"name" validate:"notblank"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	Kind         ItemKind        `json:"kind" validate:"oneof=service product"`
	IsFavorite   bool            `json:"is_favorite"`
	Active       bool            `json:"active"`
}

// SaleLineItem references a catalog entry by its display name.
type SaleLineItem struct {
	ItemName string          `json:"item_name" validate:"notblank"`
	Price    decimal.Decimal `json:"price"`
	Notes    string          `json:"notes,omitempty"`
}

// SaleRecord is a historical point-of-sale transaction.
type SaleRecord struct {
	Date          time.Time         `json:"date"`
	Time          string            `json:"time" validate:"omitempty,datetime=15:04"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	PaymentMethod SalePaymentMethod `json:"payment_method" validate:"oneof=cash twint card"`
	LineItems     []SaleLineItem    `json:"line_items" validate:"dive"`
	Notes         string            `json:"notes,omitempty"`
}

// OccurredAt combines the calendar date with the HH:MM time of day.
func (s SaleRecord) OccurredAt() time.Time {
	day := DayOf(s.Date)
	clock, err := time.Parse("15:04", strings.TrimSpace(s.Time))
	if err != nil {
		return day
	}
	return day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
}

// LineItemsTotal sums the line item prices.
func (s SaleRecord) LineItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.LineItems {
		total = total.Add(item.Price)
	}
	return total
}

// Supplier carries optional provenance for an expense.
type Supplier struct {
	Name          string `json:"name,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

// ExpenseRecord is a historical expense entry.
type ExpenseRecord struct {
	Date          time.Time            `json:"date"`
	Amount        decimal.Decimal      `json:"amount"`
	Description   string               `json:"description" validate:"notblank"`
	Category      ExpenseCategory      `json:"category" validate:"oneof=rent utilities supplies equipment marketing insurance salaries taxes fees other"`
	PaymentMethod ExpensePaymentMethod `json:"payment_method" validate:"oneof=bank cash"`
	Supplier      *Supplier            `json:"supplier,omitempty"`
}

// CatalogItem is a persisted catalog row.
type CatalogItem struct {
	ID           uuid.UUID
	Name         string
	DefaultPrice decimal.Decimal
	Kind         ItemKind
	IsFavorite   bool
	Active       bool
	CreatedAt    time.Time
}

// SaleItem is a persisted line item with its resolved catalog id.
type SaleItem struct {
	ItemID   uuid.UUID
	ItemName string
	Kind     ItemKind
	Price    decimal.Decimal
	Notes    string
}

// Sale is a persisted sale with its line items.
type Sale struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	SoldAt        time.Time
	TotalAmount   decimal.Decimal
	PaymentMethod SalePaymentMethod
	Notes         string
	Items         []SaleItem
}

// Expense is a persisted expense.
type Expense struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Date          time.Time
	Amount        decimal.Decimal
	Description   string
	Category      ExpenseCategory
	PaymentMethod ExpensePaymentMethod
	SupplierName  string
	InvoiceNumber string
}

// CashMovement is one cash-ledger entry derived from a cash-settled record.
type CashMovement struct {
	OwnerID       uuid.UUID
	Amount        decimal.Decimal
	Direction     Direction
	Description   string
	ReferenceType ReferenceType
	ReferenceID   uuid.NullUUID
	OccurredAt    time.Time
}

// DailySummary aggregates all ledger activity of one calendar day.
type DailySummary struct {
	Date             time.Time
	CashTotal        decimal.Decimal
	TwintTotal       decimal.Decimal
	CardTotal        decimal.Decimal
	ServiceTotal     decimal.Decimal
	ProductTotal     decimal.Decimal
	Revenue          decimal.Decimal
	ExpenseTotal     decimal.Decimal
	TransactionCount int
	Status           SummaryStatus
	ClosedBy         uuid.NullUUID
	ClosedAt         *time.Time
	Notes            string
}

// DocumentKey is the idempotency marker of a generated document.
type DocumentKey struct {
	Type          DocumentType
	ReferenceType ReferenceType
	ReferenceID   string
}

// StoragePath returns the object path a document for the key is stored under.
func (k DocumentKey) StoragePath(documentDate time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%s.pdf", k.Type, documentDate.Year(), int(documentDate.Month()), k.ReferenceID)
}

// Document is the metadata row of a stored artefact.
type Document struct {
	ID           uuid.UUID
	Key          DocumentKey
	FileName     string
	StoragePath  string
	SizeBytes    int64
	MimeType     string
	DocumentDate time.Time
	CreatedBy    uuid.UUID
	CreatedAt    time.Time
}

// Counts aggregates what a run produced.
type Counts struct {
	// On a dry run this is the number of catalog rows submitted, since the
	// plan does not know which names the store already holds.
	ItemsImported          int   `json:"items_imported"`
	SalesImported          int   `json:"sales_imported"`
	ExpensesImported       int   `json:"expenses_imported"`
	CashMovementsGenerated int   `json:"cash_movements_generated"`
	DocumentsGenerated     int   `json:"documents_generated"`
	SummariesClosed        int   `json:"summaries_closed"`
	ElapsedMs              int64 `json:"elapsed_ms"`
}

// Result is returned to the caller of Orchestrator.Run.
type Result struct {
	Status      RunStatus `json:"status"`
	DryRun      bool      `json:"dry_run"`
	FailedPhase string    `json:"failed_phase,omitempty"`
	Results     *Counts   `json:"results,omitempty"`
	Errors      []string  `json:"errors"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// DayOf truncates t to its calendar day, keeping the location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayKey formats the calendar day used as a summary reference.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
