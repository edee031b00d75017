package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-books-spider/models"
)

// PostgresWriter upserts entries into a table keyed by upc.
type PostgresWriter struct {
	pool      *pgxpool.Pool
	upsertSQL string
	timeout   time.Duration
}

// NewPostgresWriter opens a pool and creates the table when missing.
func NewPostgresWriter(ctx context.Context, dsn, table string, maxConns int) (*PostgresWriter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(setupCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(setupCtx, createTableSQL(table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres create table: %w", err)
	}

	return &PostgresWriter{
		pool:      pool,
		upsertSQL: upsertSQL(table),
		timeout:   30 * time.Second,
	}, nil
}

func (w *PostgresWriter) Write(entries []*models.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	b := &pgx.Batch{}
	for _, entry := range entries {
		b.Queue(w.upsertSQL, upsertArgs(entry)...)
	}

	br := w.pool.SendBatch(ctx, b)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres upsert: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres batch close: %w", err)
	}
	return nil
}

func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

// Validate checks the database is still reachable after the crawl.
func (w *PostgresWriter) Validate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{table}.Sanitize() + ` (
	upc             TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	price           NUMERIC(10,2) NOT NULL,
	rating          SMALLINT NOT NULL,
	amount_in_stock INTEGER,
	category        TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL,
	url             TEXT NOT NULL,
	scraped_at      TIMESTAMPTZ NOT NULL
)`
}

func upsertSQL(table string) string {
	return `INSERT INTO ` + pgx.Identifier{table}.Sanitize() + `
	(upc, title, price, rating, amount_in_stock, category, description, url, scraped_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (upc) DO UPDATE SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	rating = EXCLUDED.rating,
	amount_in_stock = EXCLUDED.amount_in_stock,
	category = EXCLUDED.category,
	description = EXCLUDED.description,
	url = EXCLUDED.url,
	scraped_at = EXCLUDED.scraped_at`
}

func upsertArgs(entry *models.CatalogEntry) []any {
	return []any{
		entry.UPC,
		entry.Title,
		entry.Price,
		entry.Rating,
		entry.StockCount,
		entry.Category,
		entry.Description,
		entry.URL,
		entry.ScrapedAt,
	}
}
