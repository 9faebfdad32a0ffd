package replay

import (
	"context"
	"sync"
	"time"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// MemoryStore provides an in-memory implementation of Store.
//
// Consumed proofs live only as long as the process. Use it for demos and
// tests; production deployments need RedisStore, SQLiteStore or PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]x402.ConsumedProofRecord
	cfg     *config
}

// NewMemoryStore creates a new in-memory replay store
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]x402.ConsumedProofRecord),
		cfg:     newConfig(opts),
	}
}

// TryConsume records the proof unless a live record already exists.
// The check and the insert happen under one lock.
func (s *MemoryStore) TryConsume(_ context.Context, record x402.ConsumedProofRecord) (x402.ConsumeStatus, error) {
	key := Key(record.ResourceID, record.TxRef)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && !s.expiredLocked(existing) {
		return x402.AlreadyConsumed, nil
	}

	if record.ConsumedAt.IsZero() {
		record.ConsumedAt = s.cfg.now().UTC()
	}
	s.records[key] = record

	s.cleanupExpiredLocked()
	return x402.Consumed, nil
}

// IsConsumed reports whether a live record exists
func (s *MemoryStore) IsConsumed(_ context.Context, resourceID, txRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[Key(resourceID, txRef)]
	return ok && !s.expiredLocked(existing), nil
}

// Get returns a copy of the record for the pair
func (s *MemoryStore) Get(_ context.Context, resourceID, txRef string) (*x402.ConsumedProofRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[Key(resourceID, txRef)]
	if !ok || s.expiredLocked(existing) {
		return nil, ErrNotFound
	}
	return &existing, nil
}

// Prune removes records consumed before the given time
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, r := range s.records {
		if r.ConsumedAt.Before(before) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, including expired ones not yet cleaned up
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) expiredLocked(r x402.ConsumedProofRecord) bool {
	if s.cfg.retention <= 0 {
		return false
	}
	return s.cfg.now().After(r.ConsumedAt.Add(s.cfg.retention))
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *MemoryStore) cleanupExpiredLocked() {
	if s.cfg.retention <= 0 {
		return
	}
	for key, r := range s.records {
		if s.expiredLocked(r) {
			delete(s.records, key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
