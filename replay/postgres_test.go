package replay

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Set X402_TEST_POSTGRES_URL to run against a real database.
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("X402_TEST_POSTGRES_URL")
	if dbURL == "" {
		t.Skip("X402_TEST_POSTGRES_URL not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		store, err := OpenPostgres(ctx, dbURL)
		require.NoError(t, err)

		// Subtests reuse the same keys, so each starts from an empty table.
		_, err = store.pool.Exec(ctx, `DELETE FROM consumed_proofs`)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = store.pool.Exec(ctx, `DELETE FROM consumed_proofs`)
			store.Close()
		})
		return store
	})
}
