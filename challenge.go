package x402

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// X402Version is the version stamped on every challenge body
const X402Version = 1

// challengeNamespace scopes challenge IDs so they cannot collide with other
// name-based UUIDs derived from the same strings.
var challengeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("x402:payment-challenge"))

// NewChallenge derives the challenge for a policy. The ID depends only on the
// policy, so every 402 for the same price carries the same ID.
func NewChallenge(policy PricePolicy, issuedAt time.Time) *PaymentChallenge {
	return &PaymentChallenge{
		Policy:       policy.Clone(),
		ChallengeID:  ChallengeID(policy),
		IssuedAt:     issuedAt.UTC(),
		Instructions: Instructions(policy),
	}
}

// ChallengeID returns the deterministic challenge identifier for a policy
func ChallengeID(policy PricePolicy) string {
	amount := "0"
	if policy.Amount != nil {
		amount = policy.Amount.String()
	}
	name := fmt.Sprintf("%s|%s|%s|%s|%s", policy.ResourceID, policy.Network, policy.Recipient, policy.Asset, amount)
	return uuid.NewSHA1(challengeNamespace, []byte(name)).String()
}

// Instructions returns the steps a client follows to satisfy a challenge
func Instructions(policy PricePolicy) []Instruction {
	return []Instruction{
		{
			Step:        1,
			Action:      "connect_wallet",
			Description: fmt.Sprintf("Connect a wallet on network %s", policy.Network),
		},
		{
			Step:   2,
			Action: "send_payment",
			Description: fmt.Sprintf("Send %s (%s minor units) to %s on %s",
				policy.DisplayPrice(), policy.Amount.String(), policy.Recipient, policy.Network),
		},
		{
			Step:   3,
			Action: "resubmit_with_proof",
			Description: fmt.Sprintf("Retry the request with headers %s: <transaction hash> and %s: %s",
				HeaderTxHash, HeaderNetwork, policy.Network),
		},
	}
}

// Proof metadata headers
const (
	HeaderTxHash          = "X-Payment-TxHash"
	HeaderNetwork         = "X-Payment-Network"
	HeaderResource        = "X-Payment-Resource"
	HeaderPaymentResponse = "X-Payment-Response"
)

// PaymentRequiredResponse is the body returned for a challenge or a rejected proof
type PaymentRequiredResponse struct {
	X402Version   int                    `json:"x402Version"`
	Error         string                 `json:"error"`
	Message       string                 `json:"message,omitempty"`
	Retryable     bool                   `json:"retryable"`
	Permanent     bool                   `json:"permanent,omitempty"`
	Price         string                 `json:"price,omitempty"`
	DisplayPrice  string                 `json:"displayPrice,omitempty"`
	WalletAddress string                 `json:"walletAddress,omitempty"`
	Recipient     string                 `json:"recipient,omitempty"`
	Network       Network                `json:"network,omitempty"`
	Asset         string                 `json:"asset,omitempty"`
	ResourceID    string                 `json:"resourceId,omitempty"`
	ChallengeID   string                 `json:"challengeId,omitempty"`
	IssuedAt      *time.Time             `json:"issuedAt,omitempty"`
	Instructions  []Instruction          `json:"instructions,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewPaymentRequiredResponse builds the client-visible body. challenge may be
// nil when there is no policy to quote (unknown resource).
func NewPaymentRequiredResponse(challenge *PaymentChallenge, perr *PaymentError) PaymentRequiredResponse {
	resp := PaymentRequiredResponse{
		X402Version: X402Version,
		Error:       ErrCodePaymentRequired,
		Message:     "Payment required to access this resource",
	}
	if perr != nil {
		resp.Error = perr.Code
		resp.Message = perr.Message
		resp.Retryable = perr.Retryable
		resp.Permanent = perr.Permanent()
		resp.Details = perr.Details
	}
	if challenge != nil {
		p := challenge.Policy
		issuedAt := challenge.IssuedAt
		resp.Price = p.Amount.String()
		resp.DisplayPrice = p.DisplayPrice()
		resp.WalletAddress = p.Recipient
		resp.Recipient = p.Recipient
		resp.Network = p.Network
		resp.Asset = p.Asset
		resp.ResourceID = p.ResourceID
		resp.ChallengeID = challenge.ChallengeID
		resp.IssuedAt = &issuedAt
		resp.Instructions = challenge.Instructions
	}
	return resp
}
