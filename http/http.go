// Package http adapts the payment gateway to net/http.
//
// PaymentMiddleware guards a handler behind a price policy, WrapClient pays
// challenges on the caller side, and the helpers in this package are shared
// by the gin and echo adapters in the subpackages.
package http

import (
	"net/http"
	"strings"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// ProofFromRequest reads the proof headers. It returns nil when the request
// carries none of them; a partial proof is returned as-is and the gateway
// treats it as incomplete.
func ProofFromRequest(r *http.Request) *x402.PaymentProof {
	return ProofFromHeader(r.Header)
}

// ProofFromHeader reads the proof headers from h
func ProofFromHeader(h http.Header) *x402.PaymentProof {
	txRef := strings.TrimSpace(h.Get(x402.HeaderTxHash))
	network := strings.TrimSpace(h.Get(x402.HeaderNetwork))
	resource := strings.TrimSpace(h.Get(x402.HeaderResource))
	if txRef == "" && network == "" && resource == "" {
		return nil
	}
	return &x402.PaymentProof{
		TxRef:      txRef,
		Network:    x402.Network(network),
		ResourceID: resource,
	}
}

// SetProofHeaders writes proof onto h
func SetProofHeaders(h http.Header, proof x402.PaymentProof) {
	h.Set(x402.HeaderTxHash, proof.TxRef)
	h.Set(x402.HeaderNetwork, string(proof.Network))
	if proof.ResourceID != "" {
		h.Set(x402.HeaderResource, proof.ResourceID)
	} else {
		h.Del(x402.HeaderResource)
	}
}

// IsWebBrowser reports whether the request looks like a browser navigation
func IsWebBrowser(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}
