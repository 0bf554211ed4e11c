package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/storage"
)

type capturePDF struct {
	html string
	page PageOptions
}

func (c *capturePDF) RenderHTMLPage(_ context.Context, html string, page PageOptions) ([]byte, error) {
	c.html = html
	c.page = page
	return []byte("%PDF-1.7"), nil
}

func TestRenderHTMLPageSendsLayout(t *testing.T) {
	var fields map[string]string
	var file string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, _, err := r.FormFile("files")
		require.NoError(t, err)
		body, _ := io.ReadAll(f)
		file = string(body)
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second)
	pdf, err := client.RenderHTMLPage(context.Background(), "<p>hi</p>", PageOptions{PaperWidth: 3.15, MarginTop: 0.2})
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(pdf))
	require.Equal(t, "<p>hi</p>", file)
	require.Equal(t, "3.15", fields["paperWidth"])
	require.Equal(t, "0.2", fields["marginTop"])
	require.Equal(t, "true", fields["printBackground"])
	_, ok := fields["paperHeight"]
	require.False(t, ok)
}

func TestRenderHTMLPageFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("chromium crashed\n"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), "<p/>")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Status)
	require.Equal(t, "chromium crashed", statusErr.Body)
	require.ErrorContains(t, err, "502")
}

func TestDocumentRendererSaleReceipt(t *testing.T) {
	pdf := &capturePDF{}
	renderer, err := NewDocumentRenderer(pdf, RendererConfig{BusinessName: "Salon Alpin", Locale: "de-CH"})
	require.NoError(t, err)

	saleID := uuid.New()
	out, err := renderer.Render(context.Background(), backfill.DocumentSaleReceipt, backfill.SaleReceipt{
		SaleID:        saleID.String(),
		SoldAt:        time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		PaymentMethod: backfill.SalePaymentTwint,
		Items:         []backfill.SaleItem{{ItemName: "Haircut", Price: decimal.RequireFromString("1045.5")}},
		Total:         decimal.RequireFromString("1045.5"),
	})
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(out))
	require.Contains(t, pdf.html, "Salon Alpin")
	require.Contains(t, pdf.html, "01.03.2024 09:30")
	require.Contains(t, pdf.html, "Haircut")
	require.Contains(t, pdf.html, "CHF 1")
	require.Contains(t, pdf.html, saleID.String())
	require.Equal(t, 3.15, pdf.page.PaperWidth)
}

func TestDocumentRendererPeriodReportUsesA4(t *testing.T) {
	pdf := &capturePDF{}
	renderer, err := NewDocumentRenderer(pdf, RendererConfig{BusinessName: "Salon Alpin"})
	require.NoError(t, err)

	_, err = renderer.Render(context.Background(), backfill.DocumentPeriodReport, backfill.PeriodReport{
		Summary: backfill.DailySummary{
			Date:             time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			CashTotal:        decimal.RequireFromString("80"),
			Revenue:          decimal.RequireFromString("80"),
			TransactionCount: 2,
			Status:           backfill.SummaryClosed,
			Notes:            backfill.AutoCloseNote,
		},
		GeneratedAt: time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Contains(t, pdf.html, "Tagesabschluss 02.03.2024")
	require.Contains(t, pdf.html, backfill.AutoCloseNote)
	require.Equal(t, 8.27, pdf.page.PaperWidth)
}

func TestDocumentRendererKeepsWallClockOutsideUTC(t *testing.T) {
	pdf := &capturePDF{}
	renderer, err := NewDocumentRenderer(pdf, RendererConfig{Location: time.FixedZone("UTC-5", -5*3600)})
	require.NoError(t, err)

	_, err = renderer.Render(context.Background(), backfill.DocumentSaleReceipt, backfill.SaleReceipt{
		SaleID: uuid.NewString(),
		SoldAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Total:  decimal.RequireFromString("10"),
	})
	require.NoError(t, err)
	require.Contains(t, pdf.html, "01.03.2024 09:00")

	_, err = renderer.Render(context.Background(), backfill.DocumentPeriodReport, backfill.PeriodReport{
		Summary:     backfill.DailySummary{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Status: backfill.SummaryClosed},
		GeneratedAt: time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Contains(t, pdf.html, "Tagesabschluss 01.03.2024")
	require.NotContains(t, pdf.html, "29.02.2024")
	require.Contains(t, pdf.html, "erstellt 01.04.2024 03:00")
}

func TestDocumentRendererFormatsExactAmounts(t *testing.T) {
	pdf := &capturePDF{}
	renderer, err := NewDocumentRenderer(pdf, RendererConfig{Locale: "de-CH"})
	require.NoError(t, err)

	_, err = renderer.Render(context.Background(), backfill.DocumentSaleReceipt, backfill.SaleReceipt{
		SaleID: uuid.NewString(),
		SoldAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Items: []backfill.SaleItem{
			{ItemName: "Colour", Price: decimal.RequireFromString("1234567.895")},
			{ItemName: "Refund", Price: decimal.RequireFromString("-0.5")},
		},
		Total: decimal.RequireFromString("90071992547409.93"),
	})
	require.NoError(t, err)
	require.Contains(t, pdf.html, "CHF 1’234’567.90")
	require.Contains(t, pdf.html, "CHF -0.50")
	require.Contains(t, pdf.html, "CHF 90’071’992’547’409.93")
}

func TestMoneyFormatUsesLocaleSeparators(t *testing.T) {
	f := newMoneyFormat(language.MustParse("de-DE"))
	require.Equal(t, "1.000,05", f.format(decimal.RequireFromString("1000.049")))
	f = newMoneyFormat(language.English)
	require.Equal(t, "12,345.68", f.format(decimal.RequireFromString("12345.675")))
	require.Equal(t, "0.00", f.format(decimal.RequireFromString("-0.001")))
}

func TestDocumentRendererRejectsUnknownType(t *testing.T) {
	renderer, err := NewDocumentRenderer(&capturePDF{}, RendererConfig{})
	require.NoError(t, err)
	_, err = renderer.Render(context.Background(), backfill.DocumentType("invoice"), nil)
	require.Error(t, err)
}

func TestHandlerStreamsStoredDocument(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "sale_receipt/2024/03/abc.pdf", []byte("%PDF"), "application/pdf"))

	h := NewHandler(nil, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Route("/report", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/documents/sale_receipt/2024/03/abc.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/documents/sale_receipt/2024/03/missing.pdf", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
