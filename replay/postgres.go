package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// PostgresStore records consumed proofs in PostgreSQL keyed by (resource_id, tx_ref)
type PostgresStore struct {
	pool *pgxpool.Pool
	cfg  *config
}

// OpenPostgres connects to dbURL, applies migrations and returns a store
func OpenPostgres(ctx context.Context, dbURL string, opts ...Option) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migratePostgres(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return NewPostgresStore(pool, opts...), nil
}

// NewPostgresStore wraps an existing pool whose schema is already migrated
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, cfg: newConfig(opts)}
}

func migratePostgres(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	return runMigrations("migrations/postgres", "pgx5", driver)
}

// TryConsume inserts the record; the primary key makes a second insert a no-op
func (s *PostgresStore) TryConsume(ctx context.Context, record x402.ConsumedProofRecord) (x402.ConsumeStatus, error) {
	if record.ConsumedAt.IsZero() {
		record.ConsumedAt = s.cfg.now().UTC()
	}
	amount := record.Amount
	if amount == "" {
		amount = "0"
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO consumed_proofs (resource_id, tx_ref, network, payer, amount, consumed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (resource_id, tx_ref) DO NOTHING`,
		record.ResourceID, record.TxRef, string(record.Network), record.Payer, amount, record.ConsumedAt,
	)
	if err != nil {
		return x402.AlreadyConsumed, fmt.Errorf("failed to insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return x402.AlreadyConsumed, nil
	}
	return x402.Consumed, nil
}

func (s *PostgresStore) IsConsumed(ctx context.Context, resourceID, txRef string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consumed_proofs WHERE resource_id = $1 AND tx_ref = $2)`,
		resourceID, txRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query record: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Get(ctx context.Context, resourceID, txRef string) (*x402.ConsumedProofRecord, error) {
	var (
		record  x402.ConsumedProofRecord
		network string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT resource_id, tx_ref, network, payer, amount::text, consumed_at
		FROM consumed_proofs WHERE resource_id = $1 AND tx_ref = $2`, resourceID, txRef).
		Scan(&record.ResourceID, &record.TxRef, &network, &record.Payer, &record.Amount, &record.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	record.Network = x402.Network(network)
	record.ConsumedAt = record.ConsumedAt.UTC()
	return &record, nil
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM consumed_proofs WHERE consumed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
