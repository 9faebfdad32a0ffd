package x402

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/x402-foundation/x402-summarizer"

// Verifier checks payment proofs against the ledger registered for their network.
// It holds no per-proof state; identical in-flight verifications are coalesced.
type Verifier struct {
	mu      sync.RWMutex
	ledgers map[Network]LedgerClient

	group  singleflight.Group
	tracer trace.Tracer
	logger *slog.Logger
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the verifier's logger
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithTracer sets the tracer used for verification spans
func WithTracer(tracer trace.Tracer) VerifierOption {
	return func(v *Verifier) {
		v.tracer = tracer
	}
}

// NewVerifier creates a verifier with no ledgers registered
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		ledgers: make(map[Network]LedgerClient),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Register adds a ledger client under its network. Registering a second
// client for the same network replaces the first.
func (v *Verifier) Register(ledger LedgerClient) *Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ledgers[ledger.Network().Normalize()] = ledger
	return v
}

// Networks lists the networks with a registered ledger
func (v *Verifier) Networks() []Network {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Network, 0, len(v.ledgers))
	for n := range v.ledgers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (v *Verifier) ledger(network Network) (LedgerClient, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	l, ok := v.ledgers[network]
	return l, ok
}

// CheckPolicy reports whether a policy can be verified: its network has a
// ledger, its asset is known there, and its recipient is a valid address.
func (v *Verifier) CheckPolicy(policy PricePolicy) error {
	network := policy.Network.Normalize()
	details := map[string]interface{}{"resourceId": policy.ResourceID, "network": string(network)}

	l, ok := v.ledger(network)
	if !ok {
		return NewPaymentError(ErrCodeInvalidPolicy, fmt.Sprintf("no ledger configured for network %s", network), details)
	}
	if _, err := l.ResolveAsset(policy.Asset); err != nil {
		return WrapPaymentError(ErrCodeInvalidPolicy, fmt.Sprintf("asset %s: %v", policy.Asset, err), err, details)
	}
	if _, err := l.NormalizeAddress(policy.Recipient); err != nil {
		return WrapPaymentError(ErrCodeInvalidPolicy, fmt.Sprintf("recipient %s: %v", policy.Recipient, err), err, details)
	}
	return nil
}

// Canonicalize resolves the proof's network alias and normalizes its
// transaction reference. It performs no I/O.
func (v *Verifier) Canonicalize(proof PaymentProof) (PaymentProof, error) {
	network := proof.Network.Normalize()
	details := map[string]interface{}{"network": string(network)}

	l, ok := v.ledger(network)
	if !ok {
		return PaymentProof{}, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("network %s is not supported", network), details)
	}

	ref, err := l.NormalizeReference(strings.TrimSpace(proof.TxRef))
	if err != nil {
		details["txRef"] = proof.TxRef
		return PaymentProof{}, WrapPaymentError(ErrCodeMalformedProof,
			fmt.Sprintf("malformed transaction reference: %v", err), err, details)
	}

	return PaymentProof{TxRef: ref, Network: network, ResourceID: proof.ResourceID}, nil
}

// Verify confirms on the ledger that proof pays policy. Amount, recipient and
// payer are taken from the ledger record only.
func (v *Verifier) Verify(ctx context.Context, proof PaymentProof, policy PricePolicy) (*VerificationResult, error) {
	proof, err := v.Canonicalize(proof)
	if err != nil {
		return nil, err
	}
	if want := policy.Network.Normalize(); proof.Network != want {
		return nil, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("network %s is not accepted for resource %s, expected %s", proof.Network, policy.ResourceID, want),
			map[string]interface{}{"network": string(proof.Network), "expected": string(want)})
	}

	key := string(proof.Network) + "|" + proof.TxRef + "|" + policy.ResourceID
	ch := v.group.DoChan(key, func() (interface{}, error) {
		return v.verify(ctx, proof, policy)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyResult(res.Val.(*VerificationResult)), nil
	case <-ctx.Done():
		return nil, WrapPaymentError(ErrCodeLedgerUnreachable, "ledger verification timed out", ctx.Err(),
			map[string]interface{}{"network": string(proof.Network)})
	}
}

func (v *Verifier) verify(ctx context.Context, proof PaymentProof, policy PricePolicy) (*VerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "x402.verify", trace.WithAttributes(
		attribute.String("x402.network", string(proof.Network)),
		attribute.String("x402.tx_ref", proof.TxRef),
		attribute.String("x402.resource", policy.ResourceID),
	))
	defer span.End()

	result, err := v.check(ctx, proof, policy)
	if err != nil {
		if pe, ok := AsPaymentError(err); ok {
			span.SetAttributes(attribute.String("x402.error_code", pe.Code))
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("x402.payer", result.Payer))
	return result, nil
}

func (v *Verifier) check(ctx context.Context, proof PaymentProof, policy PricePolicy) (*VerificationResult, error) {
	ledger, _ := v.ledger(proof.Network)
	details := map[string]interface{}{
		"network": string(proof.Network),
		"txRef":   proof.TxRef,
	}

	tx, err := ledger.GetTransaction(ctx, proof.TxRef)
	if err != nil {
		return nil, v.classifyLookupError(ctx, proof, err, details)
	}

	if tx.Network != "" && tx.Network.Normalize() != proof.Network {
		details["actualNetwork"] = string(tx.Network)
		return nil, NewPaymentError(ErrCodeWrongNetwork,
			fmt.Sprintf("transaction was made on %s, not %s", tx.Network, proof.Network), details)
	}

	if tx.Failed {
		return nil, NewPaymentError(ErrCodeInsufficientPayment, "transaction failed on the ledger and transferred nothing", details)
	}

	if !tx.Finalized {
		details["confirmations"] = tx.Confirmations
		return nil, NewPaymentError(ErrCodeNotYetFinalized,
			"transaction is not final yet, retry the same proof later", details)
	}

	assetID, err := ledger.ResolveAsset(policy.Asset)
	if err != nil {
		return nil, WrapPaymentError(ErrCodeInvalidPolicy, fmt.Sprintf("asset %s: %v", policy.Asset, err), err, details)
	}
	recipient, err := ledger.NormalizeAddress(policy.Recipient)
	if err != nil {
		return nil, WrapPaymentError(ErrCodeInvalidPolicy, fmt.Sprintf("recipient %s: %v", policy.Recipient, err), err, details)
	}

	paid := new(big.Int)
	var toRecipient bool
	var paidTo []string
	for _, t := range tx.Transfers {
		to, err := ledger.NormalizeAddress(t.To)
		if err != nil {
			continue
		}
		if to != recipient {
			if t.Asset == assetID {
				paidTo = append(paidTo, to)
			}
			continue
		}
		toRecipient = true
		if t.Asset == assetID && t.Amount != nil {
			paid.Add(paid, t.Amount)
		}
	}

	if !toRecipient && len(paidTo) > 0 {
		details["expectedRecipient"] = recipient
		details["paidTo"] = paidTo
		return nil, NewPaymentError(ErrCodeWrongRecipient,
			fmt.Sprintf("transaction pays %s, not %s", strings.Join(paidTo, ", "), recipient), details)
	}

	if paid.Cmp(policy.Amount) < 0 {
		details["required"] = policy.Amount.String()
		details["paid"] = paid.String()
		details["asset"] = policy.Asset
		return nil, NewPaymentError(ErrCodeInsufficientPayment,
			fmt.Sprintf("paid %s, required %s %s", paid.String(), policy.Amount.String(), policy.Asset), details)
	}

	v.logger.Debug("payment verified",
		"network", proof.Network, "tx_ref", proof.TxRef, "resource", policy.ResourceID,
		"payer", tx.Payer, "amount", paid.String(), "confirmations", tx.Confirmations)

	return &VerificationResult{
		Verified:      true,
		TxRef:         proof.TxRef,
		Network:       proof.Network,
		Payer:         tx.Payer,
		Recipient:     recipient,
		Amount:        paid,
		Asset:         policy.Asset,
		Confirmations: tx.Confirmations,
		Finalized:     tx.Finalized,
		BlockRef:      tx.BlockRef,
		BlockTime:     tx.BlockTime,
	}, nil
}

func (v *Verifier) classifyLookupError(ctx context.Context, proof PaymentProof, err error, details map[string]interface{}) error {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		if actual, ok := v.locateElsewhere(ctx, proof); ok {
			details["actualNetwork"] = string(actual)
			return WrapPaymentError(ErrCodeWrongNetwork,
				fmt.Sprintf("transaction was made on %s, not %s", actual, proof.Network), err, details)
		}
		return WrapPaymentError(ErrCodeProofNotFound,
			fmt.Sprintf("transaction %s not found on %s", proof.TxRef, proof.Network), err, details)
	case errors.Is(err, ErrMalformedReference):
		return WrapPaymentError(ErrCodeMalformedProof, err.Error(), err, details)
	default:
		// Anything else is transport trouble: timeouts, refused connections, RPC errors.
		return WrapPaymentError(ErrCodeLedgerUnreachable,
			fmt.Sprintf("ledger for %s unreachable: %v", proof.Network, err), err, details)
	}
}

// locateElsewhere looks for the transaction on every other registered network
// that accepts the reference format.
func (v *Verifier) locateElsewhere(ctx context.Context, proof PaymentProof) (Network, bool) {
	v.mu.RLock()
	others := make([]LedgerClient, 0, len(v.ledgers))
	for n, l := range v.ledgers {
		if n != proof.Network {
			others = append(others, l)
		}
	}
	v.mu.RUnlock()

	for _, l := range others {
		ref, err := l.NormalizeReference(proof.TxRef)
		if err != nil {
			continue
		}
		if _, err := l.GetTransaction(ctx, ref); err == nil {
			return l.Network().Normalize(), true
		}
	}
	return "", false
}

func copyResult(r *VerificationResult) *VerificationResult {
	c := *r
	if r.Amount != nil {
		c.Amount = new(big.Int).Set(r.Amount)
	}
	return &c
}
