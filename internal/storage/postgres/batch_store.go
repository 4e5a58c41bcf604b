// Package postgres persists batch records in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

const defaultTable = "fetch_batches"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names. Items go to "<Table>_items".
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is satisfied by *pgxpool.Pool and pgxmock pools.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// BatchStore implements crawler.BatchStore.
type BatchStore struct {
	pool       pool
	batchTable string
	itemTable  string
}

// NewBatchStore connects to Postgres.
func NewBatchStore(ctx context.Context, cfg Config) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewBatchStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewBatchStoreWithPool builds a store over an existing pool.
func NewBatchStoreWithPool(p pool, table string) (*BatchStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BatchStore{pool: p, batchTable: table, itemTable: table + "_items"}, nil
}

// Close releases the pool.
func (s *BatchStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when they do not exist.
func (s *BatchStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	batch_id     TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
	item_index   INTEGER NOT NULL,
	url          TEXT NOT NULL,
	ok           BOOLEAN NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	status_code  INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	blob_uri     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (batch_id, item_index)
);`, s.batchTable, s.itemTable)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create batch tables: %w", err)
	}
	return nil
}

// SaveBatch writes the batch row and its item rows in one transaction.
func (s *BatchStore) SaveBatch(ctx context.Context, record crawler.BatchRecord) (err error) {
	if record.ID == "" {
		return fmt.Errorf("batch id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	batchSQL := fmt.Sprintf(`INSERT INTO %s (id, status, started_at, duration_ms, succeeded, failed)
VALUES ($1,$2,$3,$4,$5,$6)`, s.batchTable)
	if _, err = tx.Exec(ctx, batchSQL,
		record.ID, string(record.Status), record.StartedAt, record.DurationMs, record.Succeeded, record.Failed,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	itemSQL := fmt.Sprintf(`INSERT INTO %s (batch_id, item_index, url, ok, failure_kind, reason, status_code, duration_ms, content_hash, blob_uri)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.itemTable)
	for _, item := range record.Items {
		if _, err = tx.Exec(ctx, itemSQL,
			record.ID, item.Index, item.URL, item.OK, item.FailureKind, item.Reason, item.StatusCode,
			item.DurationMs, item.ContentHash, item.BlobURI,
		); err != nil {
			return fmt.Errorf("insert batch item %d: %w", item.Index, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetBatch loads a batch and its items ordered by index.
func (s *BatchStore) GetBatch(ctx context.Context, id string) (crawler.BatchRecord, error) {
	var (
		record crawler.BatchRecord
		status string
	)
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, status, started_at, duration_ms, succeeded, failed FROM %s WHERE id = $1`, s.batchTable), id)
	if err := row.Scan(&record.ID, &status, &record.StartedAt, &record.DurationMs, &record.Succeeded, &record.Failed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.BatchRecord{}, fmt.Errorf("get batch %s: %w", id, crawler.ErrBatchNotFound)
		}
		return crawler.BatchRecord{}, fmt.Errorf("select batch: %w", err)
	}
	record.Status = crawler.BatchStatus(status)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT item_index, url, ok, failure_kind, reason, status_code, duration_ms, content_hash, blob_uri
FROM %s WHERE batch_id = $1 ORDER BY item_index`, s.itemTable), id)
	if err != nil {
		return crawler.BatchRecord{}, fmt.Errorf("select batch items: %w", err)
	}
	defer rows.Close()

	record.Items = []crawler.ItemRecord{}
	for rows.Next() {
		var item crawler.ItemRecord
		if err := rows.Scan(&item.Index, &item.URL, &item.OK, &item.FailureKind, &item.Reason, &item.StatusCode,
			&item.DurationMs, &item.ContentHash, &item.BlobURI); err != nil {
			return crawler.BatchRecord{}, fmt.Errorf("scan batch item: %w", err)
		}
		record.Items = append(record.Items, item)
	}
	if err := rows.Err(); err != nil {
		return crawler.BatchRecord{}, fmt.Errorf("iterate batch items: %w", err)
	}
	return record, nil
}
