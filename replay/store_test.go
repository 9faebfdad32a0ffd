package replay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-summarizer"
)

func testRecord(resourceID, txRef string) x402.ConsumedProofRecord {
	return x402.ConsumedProofRecord{
		TxRef:      txRef,
		ResourceID: resourceID,
		Network:    "testnet-a",
		Payer:      "payer-1",
		Amount:     "10000",
		ConsumedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// runStoreSuite exercises the replay contract shared by every store
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("consume once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		status, err := store.TryConsume(ctx, testRecord("summarize", "0xabc"))
		require.NoError(t, err)
		assert.Equal(t, x402.Consumed, status)

		status, err = store.TryConsume(ctx, testRecord("summarize", "0xabc"))
		require.NoError(t, err)
		assert.Equal(t, x402.AlreadyConsumed, status)

		consumed, err := store.IsConsumed(ctx, "summarize", "0xabc")
		require.NoError(t, err)
		assert.True(t, consumed)
	})

	t.Run("pair is scoped by resource", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		status, err := store.TryConsume(ctx, testRecord("summarize", "0xdef"))
		require.NoError(t, err)
		assert.Equal(t, x402.Consumed, status)

		status, err = store.TryConsume(ctx, testRecord("translate", "0xdef"))
		require.NoError(t, err)
		assert.Equal(t, x402.Consumed, status)

		consumed, err := store.IsConsumed(ctx, "other", "0xdef")
		require.NoError(t, err)
		assert.False(t, consumed)
	})

	t.Run("get returns stored record", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Get(ctx, "summarize", "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		want := testRecord("summarize", "0x123")
		_, err = store.TryConsume(ctx, want)
		require.NoError(t, err)

		got, err := store.Get(ctx, "summarize", "0x123")
		require.NoError(t, err)
		assert.Equal(t, want.TxRef, got.TxRef)
		assert.Equal(t, want.ResourceID, got.ResourceID)
		assert.Equal(t, want.Network, got.Network)
		assert.Equal(t, want.Payer, got.Payer)
		assert.Equal(t, want.Amount, got.Amount)
		assert.True(t, want.ConsumedAt.Equal(got.ConsumedAt), "consumedAt %v != %v", got.ConsumedAt, want.ConsumedAt)
	})

	t.Run("concurrent consume yields exactly one winner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		const workers = 32
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			consumed int
			already  int
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				status, err := store.TryConsume(ctx, testRecord("summarize", "0xrace"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if status == x402.Consumed {
					consumed++
				} else {
					already++
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, consumed)
		assert.Equal(t, workers-1, already)
	})

	t.Run("distinct proofs do not contend", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status, err := store.TryConsume(ctx, testRecord("summarize", fmt.Sprintf("0x%02d", i)))
				assert.NoError(t, err)
				assert.Equal(t, x402.Consumed, status)
			}(i)
		}
		wg.Wait()
	})
}
