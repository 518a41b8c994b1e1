package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"ebay-harvester/models"
	"ebay-harvester/utils"
)

// PostgresWriter persists harvested batches to PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, waits for it to answer
// a ping, ensures the schema and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, retry *utils.RetryConfig) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	err = retry.Do(ctx, "postgres-ping", func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return pw, nil
}

// EnsureSchema creates the sellers, products and daily_logs tables if they
// do not exist yet.
func (pw *PostgresWriter) EnsureSchema(ctx context.Context) error {
	if _, err := pw.db.ExecContext(ctx, schemaDDL); err != nil {
		return wrapCtx(ctx, "ensure schema", err)
	}
	return nil
}

// WriteBatch upserts sellers, products and daily logs in one transaction.
func (pw *PostgresWriter) WriteBatch(ctx context.Context, batch *models.Batch) error {
	if batch == nil || len(batch.Sellers)+len(batch.Products)+len(batch.DailyLogs) == 0 {
		return nil
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapCtx(ctx, "begin batch", err)
	}
	defer tx.Rollback()

	for _, group := range compileBatch(batch) {
		if err := execGroup(ctx, tx, group); err != nil {
			return wrapCtx(ctx, "upsert "+group.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapCtx(ctx, "commit batch", err)
	}
	return nil
}

func execGroup(ctx context.Context, tx *sql.Tx, group statementGroup) error {
	if len(group.rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, group.query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, args := range group.rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Product returns a stored product by item id.
func (pw *PostgresWriter) Product(ctx context.Context, itemID string) (*models.Product, error) {
	p, err := scanProduct(pw.db.QueryRowContext(ctx, selectProductSQL, itemID))
	if err != nil {
		return nil, wrapCtx(ctx, "select product", err)
	}
	return p, nil
}

// UpdateProduct applies patch to one product with a single fixed UPDATE.
func (pw *PostgresWriter) UpdateProduct(ctx context.Context, itemID string, patch models.ProductPatch) (*models.Product, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	p, err := scanProduct(pw.db.QueryRowContext(ctx, updateProductSQL, patchArgs(itemID, patch)...))
	if err != nil {
		return nil, wrapCtx(ctx, "update product", err)
	}
	return p, nil
}

// DeleteProduct removes a product together with its daily logs.
func (pw *PostgresWriter) DeleteProduct(ctx context.Context, itemID string) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapCtx(ctx, "begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteDailyLogsSQL, itemID); err != nil {
		return wrapCtx(ctx, "delete daily logs", err)
	}
	res, err := tx.ExecContext(ctx, deleteProductSQL, itemID)
	if err != nil {
		return wrapCtx(ctx, "delete product", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProductNotFound
	}

	if err := tx.Commit(); err != nil {
		return wrapCtx(ctx, "commit delete", err)
	}
	return nil
}

func scanProduct(row *sql.Row) (*models.Product, error) {
	p := &models.Product{}
	err := row.Scan(&p.ItemID, &p.SellerID, &p.Title, &p.MPNOEM, &p.Category, &p.URL, &p.ImageURL, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
