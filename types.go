package x402

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:1328" for Sei testnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// Normalize resolves a registered alias ("sei-testnet") to its canonical
// identifier ("eip155:1328"). Unknown names are returned trimmed and unchanged.
func (n Network) Normalize() Network {
	key := strings.ToLower(strings.TrimSpace(string(n)))
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return Network(strings.TrimSpace(string(n)))
}

var (
	aliasMu sync.RWMutex
	aliases = map[string]Network{}
)

// RegisterNetworkAlias maps a human-readable network name onto a canonical identifier.
// Ledger packages call this from init for the networks they know.
func RegisterNetworkAlias(alias string, canonical Network) {
	aliasMu.Lock()
	defer aliasMu.Unlock()
	aliases[strings.ToLower(alias)] = canonical
}

// PricePolicy is the price of one resource: amount of asset, paid to recipient, on network.
// Amount is in the asset's minor units.
type PricePolicy struct {
	ResourceID  string   `json:"resourceId"`
	Network     Network  `json:"network"`
	Recipient   string   `json:"recipient"`
	Amount      *big.Int `json:"amount"`
	Asset       string   `json:"asset"`
	Decimals    int      `json:"decimals"`
	Description string   `json:"description,omitempty"`
}

// Clone returns a deep copy of the policy
func (p PricePolicy) Clone() PricePolicy {
	c := p
	if p.Amount != nil {
		c.Amount = new(big.Int).Set(p.Amount)
	}
	return c
}

// DisplayPrice renders the amount in whole asset units, e.g. "0.01 USDC"
func (p PricePolicy) DisplayPrice() string {
	return FormatAmount(p.Amount, p.Decimals) + " " + p.Asset
}

// PaymentChallenge is the body of a 402 response. It is derived from the
// policy on every rejected request and never stored.
type PaymentChallenge struct {
	Policy       PricePolicy   `json:"-"`
	ChallengeID  string        `json:"challengeId"`
	IssuedAt     time.Time     `json:"issuedAt"`
	Instructions []Instruction `json:"instructions"`
}

// Instruction is one machine-followable step of a challenge
type Instruction struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// PaymentProof is the client's claim that a payment was made
type PaymentProof struct {
	TxRef      string  `json:"txRef"`
	Network    Network `json:"network"`
	ResourceID string  `json:"resourceId,omitempty"`
}

// Empty reports whether the proof carries no usable metadata
func (p *PaymentProof) Empty() bool {
	return p == nil || strings.TrimSpace(p.TxRef) == "" || strings.TrimSpace(string(p.Network)) == ""
}

// VerificationResult is what the ledger says about a proof
type VerificationResult struct {
	Verified      bool      `json:"verified"`
	TxRef         string    `json:"txRef"`
	Network       Network   `json:"network"`
	Payer         string    `json:"payer"`
	Recipient     string    `json:"recipient"`
	Amount        *big.Int  `json:"amount"`
	Asset         string    `json:"asset"`
	Confirmations uint64    `json:"confirmations"`
	Finalized     bool      `json:"finalized"`
	BlockRef      string    `json:"blockRef,omitempty"`
	BlockTime     time.Time `json:"blockTime,omitempty"`
}

// ConsumedProofRecord marks a proof as spent for a resource
type ConsumedProofRecord struct {
	TxRef      string    `json:"txRef"`
	ResourceID string    `json:"resourceId"`
	Network    Network   `json:"network"`
	Payer      string    `json:"payer,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	ConsumedAt time.Time `json:"consumedAt"`
}

// ConsumeStatus is the outcome of a TryConsume call
type ConsumeStatus int

const (
	// Consumed means this caller recorded the proof and may forward the request
	Consumed ConsumeStatus = iota
	// AlreadyConsumed means a record already existed
	AlreadyConsumed
)

func (s ConsumeStatus) String() string {
	if s == Consumed {
		return "consumed"
	}
	return "already_consumed"
}

// Transfer is a single value movement read from a ledger
type Transfer struct {
	From   string
	To     string
	Asset  string
	Amount *big.Int
}

// LedgerTransaction is a transaction as read back from a ledger.
// Payer and transfers come from chain data, never from the client.
type LedgerTransaction struct {
	TxRef         string
	Network       Network
	Payer         string
	Transfers     []Transfer
	Confirmations uint64
	Finalized     bool
	Failed        bool
	BlockRef      string
	BlockTime     time.Time // zero when the ledger cannot date the block
}

// State is the gateway state a request ended in.
//
// StateProofSubmitted and StateVerified are transitional: a ProcessResult
// never ends in them. Before-verify hooks run while a request is
// PROOF_SUBMITTED and after-verify and consumed hooks run once it is
// VERIFIED.
type State string

const (
	StateUnchallenged   State = "UNCHALLENGED"
	StateChallenged     State = "CHALLENGED"
	StateProofSubmitted State = "PROOF_SUBMITTED"
	StateVerified       State = "VERIFIED"
	StateRejected       State = "REJECTED"
	StateForwarded      State = "FORWARDED"
	StateDenied         State = "DENIED"
)
