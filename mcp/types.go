package mcp

import (
	"encoding/json"
	"strings"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// MCP _meta keys
const (
	MCP_PAYMENT_META_KEY          = "x402/payment"
	MCP_PAYMENT_RESPONSE_META_KEY = "x402/payment-response"
)

// ExtractProofFromMeta reads the proof from a request's _meta. It returns nil
// when no proof is present or it cannot be decoded.
func ExtractProofFromMeta(meta map[string]any) *x402.PaymentProof {
	raw, ok := meta[MCP_PAYMENT_META_KEY]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var proof x402.PaymentProof
	if err := json.Unmarshal(data, &proof); err != nil {
		return nil
	}
	proof.TxRef = strings.TrimSpace(proof.TxRef)
	proof.Network = x402.Network(strings.TrimSpace(string(proof.Network)))
	return &proof
}

// ProofMeta builds the _meta entry carrying proof
func ProofMeta(proof x402.PaymentProof) map[string]any {
	entry := map[string]any{
		"txRef":   proof.TxRef,
		"network": string(proof.Network),
	}
	if proof.ResourceID != "" {
		entry["resourceId"] = proof.ResourceID
	}
	return map[string]any{MCP_PAYMENT_META_KEY: entry}
}

// toStructured converts v to the JSON object form MCP requires for
// structured content
func toStructured(v any) (map[string]any, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}
	return m, string(data), nil
}
