// Package gatewaytest builds a gateway backed by an in-memory ledger and
// replay store for adapter tests.
package gatewaytest

import (
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"testing"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/mechanisms/memory"
	"github.com/x402-foundation/x402-summarizer/replay"
)

const (
	Network   x402.Network = "testnet-A"
	Recipient              = "R1"
	Resource               = "summarize"
	Price                  = 10000
)

// Fixture is a ready gateway with one priced resource
type Fixture struct {
	Ledger   *memory.Ledger
	Guard    *replay.MemoryStore
	Verifier *x402.Verifier
	Gateway  *x402.Gateway
}

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Policy is the price of Resource
func Policy() x402.PricePolicy {
	return x402.PricePolicy{
		ResourceID:  Resource,
		Network:     Network,
		Recipient:   Recipient,
		Amount:      big.NewInt(Price),
		Asset:       "USDC",
		Decimals:    6,
		Description: "Summarize text",
	}
}

// New creates a fixture. It fails the test if the policy set cannot be built.
func New(t testing.TB, opts ...x402.GatewayOption) *Fixture {
	t.Helper()
	logger := Logger()
	policies, err := x402.NewPolicySet(logger, Policy())
	if err != nil {
		t.Fatalf("policy set: %v", err)
	}
	f := &Fixture{
		Ledger: memory.NewLedger(Network),
		Guard:  replay.NewMemoryStore(),
	}
	f.Verifier = x402.NewVerifier(x402.WithVerifierLogger(logger)).Register(f.Ledger)
	f.Gateway = x402.NewGateway(policies, f.Verifier, f.Guard,
		append([]x402.GatewayOption{x402.WithLogger(logger)}, opts...)...)
	return f
}

// Pay records a USDC payment of amount to Recipient
func (f *Fixture) Pay(ref string, amount int64, final bool) {
	f.Ledger.AddPayment(memory.Payment{TxRef: ref, From: "payer", To: Recipient, Asset: "USDC", Amount: amount, Finalized: final})
}

// Proof returns a proof for ref on Network
func Proof(ref string) *x402.PaymentProof {
	return &x402.PaymentProof{TxRef: ref, Network: Network}
}

// SetProof adds proof headers for ref to req
func SetProof(req *http.Request, ref string) {
	req.Header.Set(x402.HeaderTxHash, ref)
	req.Header.Set(x402.HeaderNetwork, string(Network))
}
