package replay

import (
	"context"
	"errors"
	"time"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// ErrNotFound is returned by Get when no record exists
var ErrNotFound = errors.New("replay: record not found")

// Store is a replay guard with inspection and maintenance operations.
// Implementations must be safe for concurrent use.
type Store interface {
	x402.ReplayGuard

	// Get returns the record for a pair, or ErrNotFound.
	Get(ctx context.Context, resourceID, txRef string) (*x402.ConsumedProofRecord, error)

	// Prune deletes records consumed before the given time and returns how many
	// were removed. Stores that expire records natively return 0.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases the store's connections.
	Close() error
}

// Key joins a resource and a transaction reference into a single store key
func Key(resourceID, txRef string) string {
	return resourceID + "\x00" + txRef
}
