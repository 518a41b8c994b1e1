package services

import (
	"context"
	"time"

	"ebay-harvester/models"
	"ebay-harvester/storage"
	"ebay-harvester/utils"
)

// DefaultIngestTimeout bounds one batch transaction.
const DefaultIngestTimeout = 120 * time.Second

// Ingestor turns a chunk of listings into one storage batch.
type Ingestor struct {
	writer  storage.BatchWriter
	logger  *utils.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewIngestor creates an Ingestor writing to writer.
func NewIngestor(writer storage.BatchWriter, logger *utils.Logger, timeout time.Duration) *Ingestor {
	if timeout <= 0 {
		timeout = DefaultIngestTimeout
	}
	return &Ingestor{writer: writer, logger: logger, timeout: timeout, now: time.Now}
}

// Ingest stores listings as a single all-or-nothing batch.
func (i *Ingestor) Ingest(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	batch := BuildBatch(listings, i.now())

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if err := i.writer.WriteBatch(ctx, batch); err != nil {
		return err
	}

	i.logger.Debug("[ingestor] Stored %d sellers, %d products, %d daily logs",
		len(batch.Sellers), len(batch.Products), len(batch.DailyLogs))
	return nil
}

// BuildBatch derives the rows of the three tables from listings scanned at
// now. Sellers and products keep their first occurrence; a daily log keeps
// the last observation of its item.
func BuildBatch(listings []models.Listing, now time.Time) *models.Batch {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	b := &models.Batch{}
	sellers := make(map[string]struct{}, len(listings))
	products := make(map[string]struct{}, len(listings))
	logIndex := make(map[string]int, len(listings))

	for _, l := range listings {
		if _, seen := sellers[l.SellerID]; !seen {
			sellers[l.SellerID] = struct{}{}
			b.Sellers = append(b.Sellers, models.Seller{SellerID: l.SellerID, LastScan: now})
		}

		if _, seen := products[l.ItemID]; !seen {
			products[l.ItemID] = struct{}{}
			b.Products = append(b.Products, models.Product{
				ItemID:   l.ItemID,
				SellerID: l.SellerID,
				Title:    l.Title,
				MPNOEM:   l.MPN,
				Category: l.Category,
				URL:      l.Link,
				ImageURL: l.ImageURL,
			})
		}

		log := models.DailyLog{
			ItemID:     l.ItemID,
			LogDate:    today,
			Price:      l.Price,
			Shipping:   l.DeliveryCost,
			StockLevel: l.Quantity,
		}
		if idx, seen := logIndex[l.ItemID]; seen {
			b.DailyLogs[idx] = log
			continue
		}
		logIndex[l.ItemID] = len(b.DailyLogs)
		b.DailyLogs = append(b.DailyLogs, log)
	}
	return b
}
