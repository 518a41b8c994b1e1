package storage

import "ebay-harvester/models"

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS sellers (
		seller_id  VARCHAR(50) PRIMARY KEY,
		last_scan  TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS products (
		item_id    VARCHAR(50)  PRIMARY KEY,
		seller_id  VARCHAR(50)  NOT NULL REFERENCES sellers(seller_id),
		title      TEXT         NOT NULL DEFAULT '',
		mpn_oem    VARCHAR(100) NOT NULL DEFAULT '',
		category   VARCHAR(100) NOT NULL DEFAULT '',
		url        TEXT         NOT NULL DEFAULT '',
		image_url  TEXT         NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS daily_logs (
		id              SERIAL PRIMARY KEY,
		item_id         VARCHAR(50)   NOT NULL REFERENCES products(item_id),
		log_date        DATE          NOT NULL,
		price           NUMERIC(10,2) NOT NULL DEFAULT 0,
		shipping        NUMERIC(10,2) NOT NULL DEFAULT 0,
		stock_level     INT           NOT NULL DEFAULT 0,
		sales_estimated INT           NOT NULL DEFAULT 0,
		UNIQUE (item_id, log_date)
	);

	CREATE INDEX IF NOT EXISTS idx_products_seller  ON products(seller_id);
	CREATE INDEX IF NOT EXISTS idx_daily_logs_date  ON daily_logs(log_date);
`

const (
	upsertSellerSQL = `
		INSERT INTO sellers (seller_id, last_scan)
		VALUES ($1, $2)
		ON CONFLICT (seller_id) DO UPDATE
		SET last_scan = EXCLUDED.last_scan`

	insertProductSQL = `
		INSERT INTO products (item_id, seller_id, title, mpn_oem, category, url, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (item_id) DO NOTHING`

	upsertDailyLogSQL = `
		INSERT INTO daily_logs (item_id, log_date, price, shipping, stock_level)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, log_date) DO UPDATE
		SET price = EXCLUDED.price,
			shipping = EXCLUDED.shipping,
			stock_level = EXCLUDED.stock_level`

	selectProductSQL = `
		SELECT item_id, seller_id, title, mpn_oem, category, url, image_url, created_at
		FROM products
		WHERE item_id = $1`

	// Every mutable column is always present; NULL keeps the stored value.
	updateProductSQL = `
		UPDATE products
		SET title     = COALESCE($1, title),
			mpn_oem   = COALESCE($2, mpn_oem),
			category  = COALESCE($3, category),
			url       = COALESCE($4, url),
			image_url = COALESCE($5, image_url)
		WHERE item_id = $6
		RETURNING item_id, seller_id, title, mpn_oem, category, url, image_url, created_at`

	deleteDailyLogsSQL = `DELETE FROM daily_logs WHERE item_id = $1`
	deleteProductSQL   = `DELETE FROM products WHERE item_id = $1`
)

// statementGroup is one prepared query executed once per row.
type statementGroup struct {
	name  string
	query string
	rows  [][]any
}

// compileBatch turns a batch into its three statement groups, in the only
// order that satisfies the foreign keys.
func compileBatch(b *models.Batch) []statementGroup {
	sellers := statementGroup{name: "sellers", query: upsertSellerSQL}
	for _, s := range b.Sellers {
		sellers.rows = append(sellers.rows, []any{s.SellerID, s.LastScan})
	}

	products := statementGroup{name: "products", query: insertProductSQL}
	for _, p := range b.Products {
		products.rows = append(products.rows, []any{
			p.ItemID, p.SellerID, p.Title, p.MPNOEM, p.Category, p.URL, p.ImageURL,
		})
	}

	logs := statementGroup{name: "daily_logs", query: upsertDailyLogSQL}
	for _, l := range b.DailyLogs {
		logs.rows = append(logs.rows, []any{
			l.ItemID, l.LogDate, l.Price, l.Shipping, l.StockLevel,
		})
	}

	return []statementGroup{sellers, products, logs}
}

// patchArgs returns the arguments for updateProductSQL.
func patchArgs(itemID string, p models.ProductPatch) []any {
	return []any{
		nullable(p.Title),
		nullable(p.MPNOEM),
		nullable(p.Category),
		nullable(p.URL),
		nullable(p.ImageURL),
		itemID,
	}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
