package x402

import "context"

// LedgerClient reads transactions from one network.
//
// Implementations live under mechanisms/ and must report failures by wrapping
// ErrTransactionNotFound, ErrMalformedReference or ErrLedgerUnavailable so the
// verifier can tell a missing payment from an unreachable node.
type LedgerClient interface {
	// Network returns the canonical CAIP-2 identifier this client reads from.
	Network() Network

	// NormalizeReference validates a transaction reference and returns its
	// canonical spelling. Two spellings of the same transaction must normalize
	// to the same string, otherwise the replay guard could be bypassed.
	NormalizeReference(txRef string) (string, error)

	// NormalizeAddress returns the canonical spelling of an account address.
	NormalizeAddress(address string) (string, error)

	// ResolveAsset maps an asset symbol ("USDC", "SEI") to the identifier used
	// in Transfer.Asset for this network.
	ResolveAsset(symbol string) (string, error)

	// GetTransaction looks a transaction up by reference.
	GetTransaction(ctx context.Context, txRef string) (*LedgerTransaction, error)
}

// ProofVerifier checks payment proofs against ledgers
type ProofVerifier interface {
	// Canonicalize validates the proof's network and reference without I/O.
	Canonicalize(proof PaymentProof) (PaymentProof, error)

	// Verify reads the proof's transaction and checks it against the policy.
	Verify(ctx context.Context, proof PaymentProof, policy PricePolicy) (*VerificationResult, error)
}

// ReplayGuard records consumed proofs.
//
// TryConsume must be a single atomic check-and-set per (ResourceID, TxRef):
// of any number of concurrent callers presenting the same pair, exactly one
// observes Consumed.
type ReplayGuard interface {
	TryConsume(ctx context.Context, record ConsumedProofRecord) (ConsumeStatus, error)
	IsConsumed(ctx context.Context, resourceID, txRef string) (bool, error)
}

// OperationFunc is the protected operation. It runs only after the payment
// proof has been consumed, and its result is passed through unchanged.
type OperationFunc func(ctx context.Context) (interface{}, error)
