package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
)

func TestRecomputeTakesLargerRevenue(t *testing.T) {
	store := New()
	ctx := context.Background()
	service := backfill.CatalogItem{ID: uuid.New(), Name: "Haircut", Kind: backfill.ItemKindService}
	product := backfill.CatalogItem{ID: uuid.New(), Name: "Shampoo", Kind: backfill.ItemKindProduct}
	require.NoError(t, store.InsertCatalogItems(ctx, []backfill.CatalogItem{service, product}))

	soldAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	// Line items exceed the settled total by a rounding discount.
	_, err := store.InsertSale(ctx, backfill.Sale{
		SoldAt:        soldAt,
		TotalAmount:   decimal.RequireFromString("57.00"),
		PaymentMethod: backfill.SalePaymentTwint,
		Items: []backfill.SaleItem{
			{ItemID: service.ID, Price: decimal.RequireFromString("45.00")},
			{ItemID: product.ID, Price: decimal.RequireFromString("12.50")},
		},
	})
	require.NoError(t, err)

	require.NoError(t, store.RecomputeDailySummary(ctx, soldAt))
	summary := store.Snapshot().Summaries[0]
	require.Equal(t, backfill.SummaryOpen, summary.Status)
	require.True(t, summary.TwintTotal.Equal(decimal.RequireFromString("57.00")))
	require.True(t, summary.ServiceTotal.Equal(decimal.RequireFromString("45.00")))
	require.True(t, summary.ProductTotal.Equal(decimal.RequireFromString("12.50")))
	require.True(t, summary.Revenue.Equal(decimal.RequireFromString("57.50")))
	require.Equal(t, 1, summary.TransactionCount)
}

func TestInsertCatalogRejectsDuplicateNames(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.InsertCatalogItems(ctx, []backfill.CatalogItem{{Name: "Haircut"}}))
	err := store.InsertCatalogItems(ctx, []backfill.CatalogItem{{Name: "haircut"}})
	require.ErrorIs(t, err, backfill.ErrDuplicate)
	require.Len(t, store.Snapshot().Catalog, 1)
}

func TestInsertSaleUnknownCatalogID(t *testing.T) {
	store := New()
	_, err := store.InsertSale(context.Background(), backfill.Sale{
		Items: []backfill.SaleItem{{ItemID: uuid.New(), ItemName: "Ghost"}},
	})
	require.ErrorIs(t, err, backfill.ErrNotFound)
	require.Empty(t, store.Snapshot().Sales)
}

func TestCloseSummaryOverwritesClosedDay(t *testing.T) {
	store := New()
	ctx := context.Background()
	dayOne := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.ErrorIs(t, store.CloseDailySummary(ctx, dayOne, uuid.New(), "", time.Now()), backfill.ErrNotFound)

	require.NoError(t, store.RecomputeDailySummary(ctx, dayOne))
	first, second := uuid.New(), uuid.New()
	require.NoError(t, store.CloseDailySummary(ctx, dayOne, first, "first", time.Now()))
	require.NoError(t, store.CloseDailySummary(ctx, dayOne, second, "second", time.Now()))

	closed, err := store.ListClosedSummaries(ctx, second)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Equal(t, "second", closed[0].Notes)

	none, err := store.ListClosedSummaries(ctx, first)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpsertDocumentKeepsIdentity(t *testing.T) {
	store := New()
	ctx := context.Background()
	key := backfill.DocumentKey{Type: backfill.DocumentSaleReceipt, ReferenceType: backfill.ReferenceSale, ReferenceID: "s-1"}
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	require.NoError(t, store.UpsertDocument(ctx, backfill.Document{ID: id, Key: key, SizeBytes: 10, CreatedAt: created}))
	require.NoError(t, store.UpsertDocument(ctx, backfill.Document{ID: uuid.New(), Key: key, SizeBytes: 20, CreatedAt: created.Add(time.Hour)}))

	exists, err := store.DocumentExists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)
	docs := store.Snapshot().Documents
	require.Len(t, docs, 1)
	require.Equal(t, id, docs[0].ID)
	require.Equal(t, created, docs[0].CreatedAt)
	require.EqualValues(t, 20, docs[0].SizeBytes)
}
