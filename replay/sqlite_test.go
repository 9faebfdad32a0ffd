package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-summarizer"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "proofs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return openTestSQLite(t)
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proofs.db")
	ctx := context.Background()

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	status, err := store.TryConsume(ctx, testRecord("summarize", "0xabc"))
	require.NoError(t, err)
	assert.Equal(t, x402.Consumed, status)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	status, err = reopened.TryConsume(ctx, testRecord("summarize", "0xabc"))
	require.NoError(t, err)
	assert.Equal(t, x402.AlreadyConsumed, status)
}

func TestSQLiteStorePrune(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	old := testRecord("summarize", "0xold")
	old.ConsumedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.TryConsume(ctx, old)
	require.NoError(t, err)
	_, err = store.TryConsume(ctx, testRecord("summarize", "0xfresh"))
	require.NoError(t, err)

	n, err := store.Prune(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	consumed, err := store.IsConsumed(ctx, "summarize", "0xold")
	require.NoError(t, err)
	assert.False(t, consumed)
}
