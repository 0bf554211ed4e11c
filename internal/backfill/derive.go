package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AutoCloseNote is stored on summaries closed by an import.
const AutoCloseNote = "Automatically closed by historical import"

// Deriver computes cash movements and closed daily summaries for imported records.
type Deriver struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewDeriver constructs the derivation engine.
func NewDeriver(repo RepositoryPort, logger *slog.Logger) *Deriver {
	return &Deriver{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (d *Deriver) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// CashMovementsFor builds one movement per cash-settled record. Reference ids
// stay empty because the importer does not read back the inserted ids.
func CashMovementsFor(sales []SaleRecord, expenses []ExpenseRecord, actor uuid.UUID) []CashMovement {
	var out []CashMovement
	for _, sale := range sales {
		if sale.PaymentMethod != SalePaymentCash {
			continue
		}
		at := sale.OccurredAt()
		out = append(out, CashMovement{
			OwnerID:       actor,
			Amount:        sale.TotalAmount,
			Direction:     DirectionIn,
			Description:   fmt.Sprintf("Sale %s (%d item(s))", at.Format("15:04"), len(sale.LineItems)),
			ReferenceType: ReferenceSale,
			OccurredAt:    at,
		})
	}
	for _, exp := range expenses {
		if exp.PaymentMethod != ExpensePaymentCash {
			continue
		}
		out = append(out, CashMovement{
			OwnerID:       actor,
			Amount:        exp.Amount,
			Direction:     DirectionOut,
			Description:   exp.Description,
			ReferenceType: ReferenceExpense,
			OccurredAt:    DayOf(exp.Date),
		})
	}
	return out
}

// GenerateCashMovements writes the movements for all cash-settled records in one call.
func (d *Deriver) GenerateCashMovements(ctx context.Context, sales []SaleRecord, expenses []ExpenseRecord, actor uuid.UUID) (int, error) {
	if d == nil || d.repo == nil {
		return 0, ErrRepositoryNotInitialised
	}
	movements := CashMovementsFor(sales, expenses, actor)
	if len(movements) == 0 {
		return 0, nil
	}
	if err := d.repo.InsertCashMovements(ctx, movements); err != nil {
		return 0, storeErr("insert cash movements", err)
	}
	d.log().Info("cash movements generated", slog.Int("count", len(movements)))
	return len(movements), nil
}

// AffectedDays returns the distinct calendar days touched by the records, ascending.
func AffectedDays(sales []SaleRecord, expenses []ExpenseRecord) []time.Time {
	seen := make(map[string]time.Time)
	for _, s := range sales {
		day := DayOf(s.Date)
		seen[DayKey(day)] = day
	}
	for _, e := range expenses {
		day := DayOf(e.Date)
		seen[DayKey(day)] = day
	}
	days := make([]time.Time, 0, len(seen))
	for _, day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// CalculateAndCloseSummaries recomputes and force-closes the summary of every
// affected day. Closing an already closed day overwrites its totals.
func (d *Deriver) CalculateAndCloseSummaries(ctx context.Context, sales []SaleRecord, expenses []ExpenseRecord, actor uuid.UUID) (int, error) {
	if d == nil || d.repo == nil {
		return 0, ErrRepositoryNotInitialised
	}
	closed := 0
	for _, day := range AffectedDays(sales, expenses) {
		if err := d.repo.RecomputeDailySummary(ctx, day); err != nil {
			return closed, storeErr("recompute summary "+DayKey(day), err)
		}
		if err := d.repo.CloseDailySummary(ctx, day, actor, AutoCloseNote, d.now()); err != nil {
			return closed, storeErr("close summary "+DayKey(day), err)
		}
		closed++
	}
	d.log().Info("daily summaries closed", slog.Int("count", closed))
	return closed, nil
}

func (d *Deriver) log() *slog.Logger {
	if d != nil && d.logger != nil {
		return d.logger
	}
	return slog.Default()
}
