package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// SQLiteStore records consumed proofs in a SQLite table keyed by (resource_id, tx_ref)
type SQLiteStore struct {
	db  *sql.DB
	cfg *config
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: pragmas stick and writers never contend for the file lock.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	if err := runMigrations("migrations/sqlite", "sqlite", driver); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, cfg: newConfig(opts)}, nil
}

// TryConsume inserts the record; the primary key makes a second insert a no-op
func (s *SQLiteStore) TryConsume(ctx context.Context, record x402.ConsumedProofRecord) (x402.ConsumeStatus, error) {
	if record.ConsumedAt.IsZero() {
		record.ConsumedAt = s.cfg.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consumed_proofs (resource_id, tx_ref, network, payer, amount, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id, tx_ref) DO NOTHING`,
		record.ResourceID, record.TxRef, string(record.Network), record.Payer, record.Amount,
		record.ConsumedAt.UnixNano(),
	)
	if err != nil {
		return x402.AlreadyConsumed, fmt.Errorf("failed to insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return x402.AlreadyConsumed, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return x402.AlreadyConsumed, nil
	}
	return x402.Consumed, nil
}

func (s *SQLiteStore) IsConsumed(ctx context.Context, resourceID, txRef string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM consumed_proofs WHERE resource_id = ? AND tx_ref = ?`, resourceID, txRef).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query record: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, resourceID, txRef string) (*x402.ConsumedProofRecord, error) {
	var (
		record     x402.ConsumedProofRecord
		network    string
		consumedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_id, tx_ref, network, payer, amount, consumed_at
		FROM consumed_proofs WHERE resource_id = ? AND tx_ref = ?`, resourceID, txRef).
		Scan(&record.ResourceID, &record.TxRef, &network, &record.Payer, &record.Amount, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	record.Network = x402.Network(network)
	record.ConsumedAt = time.Unix(0, consumedAt).UTC()
	return &record, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consumed_proofs WHERE consumed_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
