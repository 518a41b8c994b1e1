package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebay-harvester/models"
	"ebay-harvester/storage"
)

var scanTime = time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)

func listing(id, seller string, price float64) models.Listing {
	return models.Listing{
		ItemID:       id,
		SellerID:     seller,
		Title:        "Item " + id,
		Price:        price,
		DeliveryCost: 3.5,
		Quantity:     4,
		Link:         "https://www.ebay.com/itm/" + id,
	}
}

func newTestIngestor(w storage.BatchWriter) *Ingestor {
	ing := NewIngestor(w, newTestLogger(), time.Second)
	ing.now = func() time.Time { return scanTime }
	return ing
}

func TestBuildBatchDedupes(t *testing.T) {
	b := BuildBatch([]models.Listing{
		listing("1", "acme", 10),
		listing("2", "acme", 20),
		listing("1", "other", 11),
	}, scanTime)

	require.Len(t, b.Sellers, 2)
	assert.Equal(t, "acme", b.Sellers[0].SellerID)
	assert.Equal(t, scanTime, b.Sellers[0].LastScan)

	require.Len(t, b.Products, 2)
	assert.Equal(t, "acme", b.Products[0].SellerID, "first occurrence of a product wins")

	require.Len(t, b.DailyLogs, 2)
	assert.Equal(t, "1", b.DailyLogs[0].ItemID)
	assert.Equal(t, 11.0, b.DailyLogs[0].Price, "last observation of an item wins")
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), b.DailyLogs[0].LogDate)
}

func TestBuildBatchIsReferentiallyComplete(t *testing.T) {
	b := BuildBatch([]models.Listing{
		listing("1", "acme", 10),
		listing("2", models.UnknownSeller, 20),
		listing("3", "beta", 30),
	}, scanTime)

	sellers := map[string]bool{}
	for _, s := range b.Sellers {
		sellers[s.SellerID] = true
	}
	products := map[string]bool{}
	for _, p := range b.Products {
		assert.True(t, sellers[p.SellerID], "seller of product %s", p.ItemID)
		products[p.ItemID] = true
	}
	for _, l := range b.DailyLogs {
		assert.True(t, products[l.ItemID], "product of log %s", l.ItemID)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	ing := newTestIngestor(store)

	batch := []models.Listing{listing("1", "acme", 10), listing("2", "acme", 20)}
	require.NoError(t, ing.Ingest(ctx, batch))
	require.NoError(t, ing.Ingest(ctx, batch))

	assert.Len(t, store.Sellers(), 1)
	assert.Len(t, store.Products(), 2)
	assert.Len(t, store.DailyLogs(), 2)
}

func TestIngestSameDayUpdatesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	ing := newTestIngestor(store)

	require.NoError(t, ing.Ingest(ctx, []models.Listing{listing("1", "acme", 10)}))
	ing.now = func() time.Time { return scanTime.Add(2 * time.Hour) }
	require.NoError(t, ing.Ingest(ctx, []models.Listing{listing("1", "acme", 9)}))

	logs := store.DailyLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, 9.0, logs[0].Price)
	assert.Equal(t, scanTime.Add(2*time.Hour), store.Sellers()[0].LastScan)
}

func TestIngestNewDayAddsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	ing := newTestIngestor(store)

	require.NoError(t, ing.Ingest(ctx, []models.Listing{listing("1", "acme", 10)}))
	ing.now = func() time.Time { return scanTime.Add(24 * time.Hour) }
	require.NoError(t, ing.Ingest(ctx, []models.Listing{listing("1", "acme", 8)}))

	assert.Len(t, store.Products(), 1)
	assert.Len(t, store.DailyLogs(), 2)
}

func TestIngestEmptyIsNoop(t *testing.T) {
	w := &failingWriter{err: errors.New("must not be called")}
	require.NoError(t, newTestIngestor(w).Ingest(context.Background(), nil))
	assert.Zero(t, w.calls)
}

type failingWriter struct {
	err   error
	calls int
}

func (w *failingWriter) WriteBatch(context.Context, *models.Batch) error {
	w.calls++
	return w.err
}

func (w *failingWriter) Close() error { return nil }

func TestIngestSurfacesStorageError(t *testing.T) {
	w := &failingWriter{err: &storage.StorageError{Op: "upsert products", Code: storage.ForeignKeyViolation, Err: errors.New("fk")}}

	err := newTestIngestor(w).Ingest(context.Background(), []models.Listing{listing("1", "acme", 10)})

	var se *storage.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, storage.ForeignKeyViolation, se.Code)
	assert.Equal(t, 1, w.calls)
}

func TestIngestHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := storage.NewMemoryStore()
	err := newTestIngestor(store).Ingest(ctx, []models.Listing{listing("1", "acme", 10)})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Products())
}
