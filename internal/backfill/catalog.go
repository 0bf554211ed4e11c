package backfill

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CatalogImporter inserts catalog records that are not yet present.
type CatalogImporter struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewCatalogImporter constructs the importer.
func NewCatalogImporter(repo RepositoryPort, logger *slog.Logger) *CatalogImporter {
	return &CatalogImporter{repo: repo, logger: logger, now: time.Now}
}

// ImportCatalog inserts the records whose lower-cased name is not stored yet,
// in chunks of batchSize, and returns the number inserted.
func (c *CatalogImporter) ImportCatalog(ctx context.Context, records []CatalogRecord, batchSize int) (int, error) {
	if c == nil || c.repo == nil {
		return 0, ErrRepositoryNotInitialised
	}
	if len(records) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	names, err := c.repo.ListCatalogNames(ctx)
	if err != nil {
		return 0, storeErr("list catalog names", err)
	}
	existing := make(map[string]struct{}, len(names))
	for _, name := range names {
		existing[catalogKey(name)] = struct{}{}
	}

	pending := make([]CatalogItem, 0, len(records))
	for _, rec := range records {
		key := catalogKey(rec.Name)
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		pending = append(pending, CatalogItem{
			ID:           uuid.New(),
			Name:         strings.TrimSpace(rec.Name),
			DefaultPrice: rec.DefaultPrice,
			Kind:         rec.Kind,
			IsFavorite:   rec.IsFavorite,
			Active:       rec.Active,
			CreatedAt:    c.now(),
		})
	}

	inserted := 0
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		if err := c.repo.InsertCatalogItems(ctx, pending[start:end]); err != nil {
			return inserted, storeErr("insert catalog items", err)
		}
		inserted += end - start
	}
	c.log().Info("catalog imported", slog.Int("inserted", inserted), slog.Int("skipped", len(records)-inserted))
	return inserted, nil
}

func (c *CatalogImporter) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
