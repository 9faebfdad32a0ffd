package x402

import (
	"context"
	"time"
)

// ============================================================================
// Gateway Hook Context Types
// ============================================================================

// ChallengeContext is passed to challenge hooks when a 402 challenge is issued
type ChallengeContext struct {
	Ctx        context.Context
	ResourceID string
	Challenge  *PaymentChallenge
	Timestamp  time.Time
}

// VerifyContext contains information passed to verify hooks
type VerifyContext struct {
	Ctx        context.Context
	ResourceID string
	Proof      PaymentProof
	Policy     PricePolicy
	Timestamp  time.Time
}

// VerifyResultContext contains the verification result and context
type VerifyResultContext struct {
	VerifyContext
	Result   *VerificationResult
	Duration time.Duration
}

// RejectionContext contains a rejected proof and the reason
type RejectionContext struct {
	VerifyContext
	Error    *PaymentError
	State    State
	Duration time.Duration
}

// ConsumedContext contains the record written to the replay guard
type ConsumedContext struct {
	VerifyContext
	Result *VerificationResult
	Record ConsumedProofRecord
}

// DownstreamFailureContext contains a protected operation failure. The proof
// stays consumed.
type DownstreamFailureContext struct {
	ConsumedContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Gateway Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the proof is re-challenged with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Gateway Hook Function Types
// ============================================================================

// ChallengeHook is called after a 402 challenge is built.
// Any error returned will be logged but will not affect the response.
type ChallengeHook func(ChallengeContext) error

// BeforeVerifyHook is called before the ledger is queried.
// If it returns a result with Abort=true, verification is skipped and the
// client is challenged again with the provided reason.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook is called after a successful ledger verification.
// Any error returned will be logged but will not affect the result.
type AfterVerifyHook func(VerifyResultContext) error

// RejectionHook is called for every rejected or denied proof
type RejectionHook func(RejectionContext) error

// ConsumedHook is called once per proof, right after it is recorded
type ConsumedHook func(ConsumedContext) error

// DownstreamFailureHook is called when the protected operation fails
type DownstreamFailureHook func(DownstreamFailureContext) error

// ============================================================================
// Gateway Hook Registration Options
// ============================================================================

// WithChallengeHook registers a hook to execute when a challenge is issued
func WithChallengeHook(hook ChallengeHook) GatewayOption {
	return func(g *Gateway) {
		g.challengeHooks = append(g.challengeHooks, hook)
	}
}

// WithBeforeVerifyHook registers a hook to execute before ledger verification
func WithBeforeVerifyHook(hook BeforeVerifyHook) GatewayOption {
	return func(g *Gateway) {
		g.beforeVerifyHooks = append(g.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers a hook to execute after successful verification
func WithAfterVerifyHook(hook AfterVerifyHook) GatewayOption {
	return func(g *Gateway) {
		g.afterVerifyHooks = append(g.afterVerifyHooks, hook)
	}
}

// WithRejectionHook registers a hook to execute when a proof is rejected
func WithRejectionHook(hook RejectionHook) GatewayOption {
	return func(g *Gateway) {
		g.rejectionHooks = append(g.rejectionHooks, hook)
	}
}

// WithConsumedHook registers a hook to execute when a proof is consumed
func WithConsumedHook(hook ConsumedHook) GatewayOption {
	return func(g *Gateway) {
		g.consumedHooks = append(g.consumedHooks, hook)
	}
}

// WithDownstreamFailureHook registers a hook to execute when the protected operation fails
func WithDownstreamFailureHook(hook DownstreamFailureHook) GatewayOption {
	return func(g *Gateway) {
		g.downstreamFailureHooks = append(g.downstreamFailureHooks, hook)
	}
}
