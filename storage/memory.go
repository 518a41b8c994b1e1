package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ebay-harvester/models"
)

type logKey struct {
	itemID string
	date   string
}

// MemoryStore keeps the three tables in process memory with the same
// conflict rules and foreign keys as the PostgreSQL schema. It backs dry
// runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	sellers  map[string]models.Seller
	products map[string]models.Product
	logs     map[logKey]models.DailyLog
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		sellers:  make(map[string]models.Seller),
		products: make(map[string]models.Product),
		logs:     make(map[logKey]models.DailyLog),
	}
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// WriteBatch checks every foreign key before touching any table, so a
// rejected batch leaves the store unchanged.
func (m *MemoryStore) WriteBatch(ctx context.Context, batch *models.Batch) error {
	if err := ctx.Err(); err != nil {
		return wrap("write batch", err)
	}
	if batch == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sellers := make(map[string]struct{}, len(batch.Sellers))
	for _, s := range batch.Sellers {
		sellers[s.SellerID] = struct{}{}
	}
	products := make(map[string]struct{}, len(batch.Products))
	for _, p := range batch.Products {
		if _, ok := m.products[p.ItemID]; ok {
			products[p.ItemID] = struct{}{}
			continue
		}
		_, inBatch := sellers[p.SellerID]
		_, stored := m.sellers[p.SellerID]
		if !inBatch && !stored {
			return &StorageError{Op: "upsert products", Code: ForeignKeyViolation,
				Err: fmt.Errorf("seller %q of item %q does not exist", p.SellerID, p.ItemID)}
		}
		products[p.ItemID] = struct{}{}
	}
	for _, l := range batch.DailyLogs {
		_, inBatch := products[l.ItemID]
		_, stored := m.products[l.ItemID]
		if !inBatch && !stored {
			return &StorageError{Op: "upsert daily_logs", Code: ForeignKeyViolation,
				Err: fmt.Errorf("item %q does not exist", l.ItemID)}
		}
	}

	for _, s := range batch.Sellers {
		m.sellers[s.SellerID] = s
	}
	for _, p := range batch.Products {
		if _, ok := m.products[p.ItemID]; ok {
			continue
		}
		p.CreatedAt = m.now()
		m.products[p.ItemID] = p
	}
	for _, l := range batch.DailyLogs {
		m.logs[logKey{itemID: l.ItemID, date: dateKey(l.LogDate)}] = l
	}
	return nil
}

// Product returns a stored product by item id.
func (m *MemoryStore) Product(_ context.Context, itemID string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[itemID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// UpdateProduct applies patch to one product.
func (m *MemoryStore) UpdateProduct(_ context.Context, itemID string, patch models.ProductPatch) (*models.Product, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[itemID]
	if !ok {
		return nil, ErrProductNotFound
	}
	p = patch.Apply(p)
	m.products[itemID] = p
	return &p, nil
}

// DeleteProduct removes a product together with its daily logs.
func (m *MemoryStore) DeleteProduct(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[itemID]; !ok {
		return ErrProductNotFound
	}
	for k := range m.logs {
		if k.itemID == itemID {
			delete(m.logs, k)
		}
	}
	delete(m.products, itemID)
	return nil
}

// Sellers returns a snapshot of the sellers table ordered by id.
func (m *MemoryStore) Sellers() []models.Seller {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Seller, 0, len(m.sellers))
	for _, s := range m.sellers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out
}

// Products returns a snapshot of the products table ordered by id.
func (m *MemoryStore) Products() []models.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// DailyLogs returns a snapshot of the daily_logs table ordered by item and date.
func (m *MemoryStore) DailyLogs() []models.DailyLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.DailyLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].LogDate.Before(out[j].LogDate)
	})
	return out
}

func (m *MemoryStore) Close() error { return nil }
