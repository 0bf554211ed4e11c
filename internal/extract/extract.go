package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
)

// Format names a supported extract encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

// ParseFormat normalises a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported extract format %q", raw)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer extract format of %q", path)
	}
	return ParseFormat(ext)
}

// CatalogRow is a catalog entry in an extract file.
type CatalogRow struct {
	Name         string `json:"name" yaml:"name"`
	DefaultPrice Money  `json:"default_price" yaml:"default_price"`
	Kind         string `json:"kind" yaml:"kind"`
	IsFavorite   bool   `json:"is_favorite" yaml:"is_favorite"`
	Active       *bool  `json:"active" yaml:"active"`
}

// LineItemRow is one sold item in an extract file.
type LineItemRow struct {
	ItemName string `json:"item_name" yaml:"item_name"`
	Price    Money  `json:"price" yaml:"price"`
	Notes    string `json:"notes" yaml:"notes"`
}

// SaleRow is a sale in an extract file.
type SaleRow struct {
	Date          Day           `json:"date" yaml:"date"`
	Time          ClockTime     `json:"time" yaml:"time"`
	TotalAmount   Money         `json:"total_amount" yaml:"total_amount"`
	PaymentMethod string        `json:"payment_method" yaml:"payment_method"`
	LineItems     []LineItemRow `json:"line_items" yaml:"line_items"`
	Notes         string        `json:"notes" yaml:"notes"`
}

// ExpenseRow is an expense in an extract file.
type ExpenseRow struct {
	Date          Day    `json:"date" yaml:"date"`
	Amount        Money  `json:"amount" yaml:"amount"`
	Description   string `json:"description" yaml:"description"`
	Category      string `json:"category" yaml:"category"`
	PaymentMethod string `json:"payment_method" yaml:"payment_method"`
	SupplierName  string `json:"supplier_name" yaml:"supplier_name"`
	InvoiceNumber string `json:"invoice_number" yaml:"invoice_number"`
}

// Extract is the decoded content of an extract file.
type Extract struct {
	Catalog  []CatalogRow `json:"catalog" yaml:"catalog"`
	Sales    []SaleRow    `json:"sales" yaml:"sales"`
	Expenses []ExpenseRow `json:"expenses" yaml:"expenses"`
}

// Decode reads an extract in the given format.
func Decode(r io.Reader, format Format) (*Extract, error) {
	switch format {
	case FormatJSON:
		var out Extract
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode json extract: %w", err)
		}
		return &out, nil
	case FormatYAML:
		var out Extract
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&out); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode yaml extract: %w", err)
		}
		return &out, nil
	case FormatXLSX:
		return decodeWorkbook(r)
	default:
		return nil, fmt.Errorf("unsupported extract format %q", format)
	}
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte, format Format) (*Extract, error) {
	return Decode(bytes.NewReader(data), format)
}

// Apply copies the extract records into batch, replacing any records it held.
func (e *Extract) Apply(batch backfill.ImportBatch) backfill.ImportBatch {
	if e == nil {
		return batch
	}
	batch.Catalog = make([]backfill.CatalogRecord, 0, len(e.Catalog))
	for _, row := range e.Catalog {
		active := true
		if row.Active != nil {
			active = *row.Active
		}
		batch.Catalog = append(batch.Catalog, backfill.CatalogRecord{
			Name:         row.Name,
			DefaultPrice: row.DefaultPrice.Decimal,
			Kind:         backfill.ItemKind(strings.ToLower(strings.TrimSpace(row.Kind))),
			IsFavorite:   row.IsFavorite,
			Active:       active,
		})
	}
	batch.Sales = make([]backfill.SaleRecord, 0, len(e.Sales))
	for _, row := range e.Sales {
		items := make([]backfill.SaleLineItem, 0, len(row.LineItems))
		for _, item := range row.LineItems {
			items = append(items, backfill.SaleLineItem{
				ItemName: item.ItemName,
				Price:    item.Price.Decimal,
				Notes:    item.Notes,
			})
		}
		batch.Sales = append(batch.Sales, backfill.SaleRecord{
			Date:          row.Date.Time,
			Time:          string(row.Time),
			TotalAmount:   row.TotalAmount.Decimal,
			PaymentMethod: backfill.SalePaymentMethod(strings.ToLower(strings.TrimSpace(row.PaymentMethod))),
			LineItems:     items,
			Notes:         row.Notes,
		})
	}
	batch.Expenses = make([]backfill.ExpenseRecord, 0, len(e.Expenses))
	for _, row := range e.Expenses {
		rec := backfill.ExpenseRecord{
			Date:          row.Date.Time,
			Amount:        row.Amount.Decimal,
			Description:   row.Description,
			Category:      backfill.ExpenseCategory(strings.ToLower(strings.TrimSpace(row.Category))),
			PaymentMethod: backfill.ExpensePaymentMethod(strings.ToLower(strings.TrimSpace(row.PaymentMethod))),
		}
		if row.SupplierName != "" || row.InvoiceNumber != "" {
			rec.Supplier = &backfill.Supplier{Name: row.SupplierName, InvoiceNumber: row.InvoiceNumber}
		}
		batch.Expenses = append(batch.Expenses, rec)
	}
	return batch
}
