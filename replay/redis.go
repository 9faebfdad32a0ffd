package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// RedisStore records consumed proofs as Redis keys written with SET NX
type RedisStore struct {
	client *redis.Client
	cfg    *config
}

// NewRedisStore wraps an existing client. The caller owns the client unless
// Close is called on the store.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, cfg: newConfig(opts)}
}

// DialRedis connects to addr and verifies the connection with PING
func DialRedis(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client, opts...), nil
}

func (s *RedisStore) key(resourceID, txRef string) string {
	return s.cfg.keyPrefix + resourceID + ":" + txRef
}

// TryConsume writes the record with SET NX; only one writer can create the key
func (s *RedisStore) TryConsume(ctx context.Context, record x402.ConsumedProofRecord) (x402.ConsumeStatus, error) {
	if record.ConsumedAt.IsZero() {
		record.ConsumedAt = s.cfg.now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return x402.AlreadyConsumed, fmt.Errorf("failed to encode record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(record.ResourceID, record.TxRef), data, s.cfg.retention).Result()
	if err != nil {
		return x402.AlreadyConsumed, fmt.Errorf("redis SETNX failed: %w", err)
	}
	if !ok {
		return x402.AlreadyConsumed, nil
	}
	return x402.Consumed, nil
}

func (s *RedisStore) IsConsumed(ctx context.Context, resourceID, txRef string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(resourceID, txRef)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, resourceID, txRef string) (*x402.ConsumedProofRecord, error) {
	data, err := s.client.Get(ctx, s.key(resourceID, txRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	var record x402.ConsumedProofRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}

// Prune is a no-op; Redis expires keys itself when a retention is set
func (s *RedisStore) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
