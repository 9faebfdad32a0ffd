// Package replay provides replay guards: stores that record consumed payment
// proofs so each (resource, transaction) pair can be spent exactly once.
//
// # Overview
//
// Every store implements x402.ReplayGuard. TryConsume is a single atomic
// check-and-set; no store implements it as a read followed by a write.
//
//   - MemoryStore: mutex-guarded map. State is lost on restart, which reopens
//     a replay window as deep as the ledger's history. Demo and test use only.
//   - RedisStore: SET NX, optionally with an expiry (the retention window).
//   - SQLiteStore: unique primary key on (resource_id, tx_ref) with
//     INSERT ... ON CONFLICT DO NOTHING. Single-node durable deployments.
//   - PostgresStore: same contract as SQLiteStore for shared deployments.
//
// # Retention
//
// Records are kept forever unless a retention window is configured. A store
// alone cannot make expiry safe: once a record is gone, TryConsume accepts
// the same pair again while the ledger still returns the transaction. Give
// the gateway x402.WithMaxProofAge with the same duration. A record is made
// after its transaction's block, so any transaction whose record has expired
// or been pruned is older than the window and is refused as proof_expired.
//
// # Usage
//
//	store, err := replay.Open(ctx, replay.Config{Driver: "sqlite", Path: "proofs.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	gateway := x402.NewGateway(policies, verifier, store)
package replay
