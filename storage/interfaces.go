package storage

import (
	"context"

	"ebay-harvester/models"
)

// BatchWriter is the interface any storage backend must satisfy to receive
// harvested batches. WriteBatch is all-or-nothing.
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch *models.Batch) error
	Close() error
}

// ProductRepository exposes the product rows for inspection and correction.
type ProductRepository interface {
	Product(ctx context.Context, itemID string) (*models.Product, error)
	UpdateProduct(ctx context.Context, itemID string, patch models.ProductPatch) (*models.Product, error)
	DeleteProduct(ctx context.Context, itemID string) error
}

// Store is a full backend.
type Store interface {
	BatchWriter
	ProductRepository
}

var (
	_ Store = (*PostgresWriter)(nil)
	_ Store = (*MemoryStore)(nil)
)
