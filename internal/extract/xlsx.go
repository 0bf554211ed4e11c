package extract

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Workbook sheet names. Sales and their items are joined on sale_ref.
const (
	SheetCatalog   = "catalog"
	SheetSales     = "sales"
	SheetSaleItems = "sale_items"
	SheetExpenses  = "expenses"
)

type sheetRow struct {
	line   int
	values map[string]string
}

func (r sheetRow) get(col string) string {
	return strings.TrimSpace(r.values[col])
}

func decodeWorkbook(r io.Reader) (*Extract, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	out := &Extract{}
	catalog, err := readSheet(f, SheetCatalog)
	if err != nil {
		return nil, err
	}
	for _, row := range catalog {
		entry := CatalogRow{Name: row.get("name"), Kind: row.get("kind")}
		if entry.DefaultPrice.Decimal, err = parseMoney(row.get("default_price")); err != nil {
			return nil, rowErr(SheetCatalog, row, err)
		}
		if entry.IsFavorite, err = parseBool(row.get("is_favorite")); err != nil {
			return nil, rowErr(SheetCatalog, row, err)
		}
		if raw := row.get("active"); raw != "" {
			active, err := parseBool(raw)
			if err != nil {
				return nil, rowErr(SheetCatalog, row, err)
			}
			entry.Active = &active
		}
		out.Catalog = append(out.Catalog, entry)
	}

	items, err := readSheet(f, SheetSaleItems)
	if err != nil {
		return nil, err
	}
	itemsByRef := make(map[string][]LineItemRow)
	for _, row := range items {
		ref := row.get("sale_ref")
		if ref == "" {
			return nil, rowErr(SheetSaleItems, row, fmt.Errorf("sale_ref is required"))
		}
		item := LineItemRow{ItemName: row.get("item_name"), Notes: row.get("notes")}
		if item.Price.Decimal, err = parseMoney(row.get("price")); err != nil {
			return nil, rowErr(SheetSaleItems, row, err)
		}
		itemsByRef[ref] = append(itemsByRef[ref], item)
	}

	sales, err := readSheet(f, SheetSales)
	if err != nil {
		return nil, err
	}
	seenRefs := make(map[string]struct{}, len(sales))
	for _, row := range sales {
		ref := row.get("sale_ref")
		if _, dup := seenRefs[ref]; dup && ref != "" {
			return nil, rowErr(SheetSales, row, fmt.Errorf("duplicate sale_ref %q", ref))
		}
		seenRefs[ref] = struct{}{}
		sale := SaleRow{
			Time:          ClockTime(cellClock(row.get("time"))),
			PaymentMethod: row.get("payment_method"),
			Notes:         row.get("notes"),
			LineItems:     itemsByRef[ref],
		}
		if sale.Date.Time, err = cellDay(row.get("date")); err != nil {
			return nil, rowErr(SheetSales, row, err)
		}
		if sale.TotalAmount.Decimal, err = parseMoney(row.get("total_amount")); err != nil {
			return nil, rowErr(SheetSales, row, err)
		}
		out.Sales = append(out.Sales, sale)
	}
	for ref := range itemsByRef {
		if _, ok := seenRefs[ref]; !ok {
			return nil, fmt.Errorf("%s: sale_ref %q has no matching sale", SheetSaleItems, ref)
		}
	}

	expenses, err := readSheet(f, SheetExpenses)
	if err != nil {
		return nil, err
	}
	for _, row := range expenses {
		exp := ExpenseRow{
			Description:   row.get("description"),
			Category:      row.get("category"),
			PaymentMethod: row.get("payment_method"),
			SupplierName:  row.get("supplier_name"),
			InvoiceNumber: row.get("invoice_number"),
		}
		if exp.Date.Time, err = cellDay(row.get("date")); err != nil {
			return nil, rowErr(SheetExpenses, row, err)
		}
		if exp.Amount.Decimal, err = parseMoney(row.get("amount")); err != nil {
			return nil, rowErr(SheetExpenses, row, err)
		}
		out.Expenses = append(out.Expenses, exp)
	}
	return out, nil
}

// readSheet returns the data rows of sheet keyed by lower-cased header. A
// missing sheet yields no rows.
func readSheet(f *excelize.File, sheet string) ([]sheetRow, error) {
	name := ""
	for _, candidate := range f.GetSheetList() {
		if strings.EqualFold(candidate, sheet) {
			name = candidate
			break
		}
	}
	if name == "" {
		return nil, nil
	}
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%s: read rows: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, len(rows[0]))
	for i, col := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}
	out := make([]sheetRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		if isRowEmpty(rows[i]) {
			continue
		}
		values := make(map[string]string, len(header))
		for j, cell := range rows[i] {
			if j < len(header) && header[j] != "" {
				values[header[j]] = cell
			}
		}
		out = append(out, sheetRow{line: i + 1, values: values})
	}
	return out, nil
}

func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// cellDay accepts an ISO date or an Excel date serial.
func cellDay(raw string) (t time.Time, err error) {
	if serial, perr := strconv.ParseFloat(raw, 64); perr == nil {
		t, err = excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return t, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return parseDay(raw)
}

// cellClock converts an Excel day fraction into HH:MM and passes text through.
func cellClock(raw string) string {
	fraction, err := strconv.ParseFloat(raw, 64)
	if err != nil || fraction < 0 || fraction >= 1 {
		return raw
	}
	// Fractions just below midnight round up to 24:00, which is not a clock time.
	minutes := min(int(fraction*24*60+0.5), 24*60-1)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func rowErr(sheet string, row sheetRow, err error) error {
	return fmt.Errorf("%s row %d: %w", sheet, row.line, err)
}
