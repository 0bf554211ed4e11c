package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/web"
)

// PDFClient exposes the subset of the report client used by the renderer.
type PDFClient interface {
	RenderHTMLPage(ctx context.Context, html string, page PageOptions) ([]byte, error)
}

type layout struct {
	file string
	page PageOptions
}

// Receipts print on 80mm roll paper, reports on A4.
var layouts = map[backfill.DocumentType]layout{
	backfill.DocumentSaleReceipt:    {file: "templates/documents/sale_receipt.html", page: PageOptions{PaperWidth: 3.15, PaperHeight: 8, MarginTop: 0.2, MarginBottom: 0.2, MarginLeft: 0.15, MarginRight: 0.15}},
	backfill.DocumentExpenseReceipt: {file: "templates/documents/expense_receipt.html", page: PageOptions{PaperWidth: 8.27, PaperHeight: 11.7, MarginTop: 0.6, MarginBottom: 0.6, MarginLeft: 0.6, MarginRight: 0.6}},
	backfill.DocumentPeriodReport:   {file: "templates/documents/period_report.html", page: PageOptions{PaperWidth: 8.27, PaperHeight: 11.7, MarginTop: 0.6, MarginBottom: 0.6, MarginLeft: 0.6, MarginRight: 0.6}},
}

// RendererConfig configures branding and number formatting of documents.
type RendererConfig struct {
	BusinessName string
	Currency     string
	Locale       string
	Location     *time.Location
}

// DocumentRenderer turns backfill render models into PDF bytes via html/template and Gotenberg.
type DocumentRenderer struct {
	tpls   map[backfill.DocumentType]*template.Template
	client PDFClient
	cfg    RendererConfig
}

// NewDocumentRenderer parses the document templates and wires the PDF client.
func NewDocumentRenderer(client PDFClient, cfg RendererConfig) (*DocumentRenderer, error) {
	if client == nil {
		return nil, fmt.Errorf("report renderer: pdf client required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "CHF"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		tag = language.MustParse("de-CH")
	}
	money := newMoneyFormat(tag)
	// Ledger dates and times are business wall-clock values carried with a
	// UTC label; only real instants are shifted into the business location.
	wallClock := func(layout string) func(time.Time) string {
		return func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format(layout)
		}
	}
	funcMap := template.FuncMap{
		"formatDate": wallClock("02.01.2006"),
		"formatTime": wallClock("15:04"),
		"formatStamp": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(cfg.Location).Format("02.01.2006 15:04")
		},
		"money": func(v decimal.Decimal) string {
			return cfg.Currency + " " + money.format(v)
		},
		"business": func() string { return cfg.BusinessName },
	}
	tpls := make(map[backfill.DocumentType]*template.Template, len(layouts))
	for kind, l := range layouts {
		tpl, err := template.New("base.html").Funcs(funcMap).ParseFS(web.Templates, "templates/documents/base.html", l.file)
		if err != nil {
			return nil, fmt.Errorf("report renderer: parse %s: %w", kind, err)
		}
		tpls[kind] = tpl
	}
	return &DocumentRenderer{tpls: tpls, client: client, cfg: cfg}, nil
}

// RenderHTML executes the template of kind without converting it.
func (r *DocumentRenderer) RenderHTML(kind backfill.DocumentType, data any) (string, error) {
	if r == nil || r.tpls == nil {
		return "", fmt.Errorf("report renderer not initialised")
	}
	tpl, ok := r.tpls[kind]
	if !ok {
		return "", fmt.Errorf("report renderer: unknown document type %q", kind)
	}
	buf := &bytes.Buffer{}
	if err := tpl.ExecuteTemplate(buf, "base.html", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render implements backfill.Renderer.
func (r *DocumentRenderer) Render(ctx context.Context, kind backfill.DocumentType, data any) ([]byte, error) {
	html, err := r.RenderHTML(kind, data)
	if err != nil {
		return nil, err
	}
	if r.client == nil {
		return nil, fmt.Errorf("report renderer: pdf client required")
	}
	return r.client.RenderHTMLPage(ctx, html, layouts[kind].page)
}

type moneyFormat struct {
	group   string
	decimal string
}

// newMoneyFormat reads the locale's separators off a sample number so amounts
// can be laid out from their exact decimal digits.
func newMoneyFormat(tag language.Tag) moneyFormat {
	sample := []rune(message.NewPrinter(tag).Sprint(number.Decimal(1234567.5, number.Scale(1))))
	f := moneyFormat{group: "", decimal: "."}
	if len(sample) >= 3 {
		f.decimal = string(sample[len(sample)-2])
		if r := sample[1]; r < '0' || r > '9' {
			f.group = string(r)
		}
	}
	return f
}

func (f moneyFormat) format(v decimal.Decimal) string {
	fixed := v.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	if v.Round(2).IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(f.group)
		}
		b.WriteRune(r)
	}
	b.WriteString(f.decimal)
	b.WriteString(frac)
	return b.String()
}
