package x402

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultVerifyTimeout bounds a single ledger verification
const DefaultVerifyTimeout = 15 * time.Second

// Gateway gates a protected operation behind a payment proof.
//
// A request moves through UNCHALLENGED → CHALLENGED → PROOF_SUBMITTED →
// {VERIFIED, REJECTED} → {FORWARDED, DENIED}. Only the ledger lookup blocks on
// external I/O, and only the replay guard's consume step is exclusive.
type Gateway struct {
	mu sync.RWMutex

	policies *PolicySet
	verifier ProofVerifier
	guard    ReplayGuard

	logger        *slog.Logger
	verifyTimeout time.Duration
	maxProofAge   time.Duration
	now           func() time.Time

	challengeHooks         []ChallengeHook
	beforeVerifyHooks      []BeforeVerifyHook
	afterVerifyHooks       []AfterVerifyHook
	rejectionHooks         []RejectionHook
	consumedHooks          []ConsumedHook
	downstreamFailureHooks []DownstreamFailureHook
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithLogger sets the gateway's logger
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVerifyTimeout bounds each ledger verification
func WithVerifyTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		if timeout > 0 {
			g.verifyTimeout = timeout
		}
	}
}

// WithMaxProofAge rejects transactions whose block is older than age.
// Set it to the replay store's retention so a record that has expired or
// been pruned cannot be spent again: every record outlives its block by at
// least age.
//
// Default: 0 (no limit)
func WithMaxProofAge(age time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxProofAge = age
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway creates a gateway over an immutable policy set
func NewGateway(policies *PolicySet, verifier ProofVerifier, guard ReplayGuard, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		policies:      policies,
		verifier:      verifier,
		guard:         guard,
		logger:        slog.Default(),
		verifyTimeout: DefaultVerifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policies returns the gateway's policy set
func (g *Gateway) Policies() *PolicySet {
	return g.policies
}

// ============================================================================
// Hook Registration Methods (Chainable)
// ============================================================================

// OnChallenge registers a hook run when a 402 challenge is issued
func (g *Gateway) OnChallenge(hook ChallengeHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.challengeHooks = append(g.challengeHooks, hook)
	return g
}

// OnBeforeVerify registers a hook run before the ledger lookup. A hook may
// abort verification.
func (g *Gateway) OnBeforeVerify(hook BeforeVerifyHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.beforeVerifyHooks = append(g.beforeVerifyHooks, hook)
	return g
}

// OnAfterVerify registers a hook run after a proof verifies
func (g *Gateway) OnAfterVerify(hook AfterVerifyHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.afterVerifyHooks = append(g.afterVerifyHooks, hook)
	return g
}

// OnRejected registers a hook run when a proof is rejected or denied
func (g *Gateway) OnRejected(hook RejectionHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectionHooks = append(g.rejectionHooks, hook)
	return g
}

// OnConsumed registers a hook run once a proof is recorded as spent
func (g *Gateway) OnConsumed(hook ConsumedHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consumedHooks = append(g.consumedHooks, hook)
	return g
}

// OnDownstreamFailure registers a hook run when the protected operation
// fails after its proof was consumed
func (g *Gateway) OnDownstreamFailure(hook DownstreamFailureHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downstreamFailureHooks = append(g.downstreamFailureHooks, hook)
	return g
}

// ProcessResult is the outcome of running a request through the gateway
type ProcessResult struct {
	State        State
	Policy       *PricePolicy
	Challenge    *PaymentChallenge
	Error        *PaymentError
	Verification *VerificationResult
	Record       *ConsumedProofRecord
}

// Granted reports whether the protected operation may run
func (r *ProcessResult) Granted() bool {
	return r.State == StateForwarded
}

// StatusCode returns the HTTP status of the result. A granted result whose
// operation failed reports the downstream failure status.
func (r *ProcessResult) StatusCode() int {
	if r.Error != nil {
		return r.Error.HTTPStatus()
	}
	if r.Granted() {
		return http.StatusOK
	}
	return http.StatusPaymentRequired
}

// Response returns the client-visible body for a result that was not granted
func (r *ProcessResult) Response() PaymentRequiredResponse {
	return NewPaymentRequiredResponse(r.Challenge, r.Error)
}

// Process runs the payment state machine for one request. proof may be nil.
//
// Verification and consumption are detached from ctx cancellation: once a
// client has presented a valid proof, a dropped connection does not undo it.
func (g *Gateway) Process(ctx context.Context, resourceID string, proof *PaymentProof) *ProcessResult {
	start := g.now()

	policy, err := g.policies.Resolve(resourceID)
	if err != nil {
		pe, _ := AsPaymentError(err)
		g.logger.Warn("request for unpriced resource", "resource", resourceID, "code", pe.Code)
		return &ProcessResult{State: StateUnchallenged, Error: pe}
	}

	challenge := NewChallenge(policy, start)

	if proof.Empty() || !claimsResource(proof, resourceID) {
		g.runChallengeHooks(ChallengeContext{Ctx: ctx, ResourceID: resourceID, Challenge: challenge, Timestamp: start})
		g.logger.Debug("issuing payment challenge", "resource", resourceID, "challenge_id", challenge.ChallengeID)
		return &ProcessResult{State: StateChallenged, Policy: &policy, Challenge: challenge}
	}

	vc := VerifyContext{Ctx: ctx, ResourceID: resourceID, Proof: *proof, Policy: policy, Timestamp: start}

	canonical, err := g.verifier.Canonicalize(*proof)
	if err != nil {
		return g.reject(vc, challenge, StateRejected, toPaymentError(err), start)
	}
	vc.Proof = canonical

	if want := policy.Network.Normalize(); canonical.Network != want {
		pe := NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("network %s is not accepted for resource %s, expected %s", canonical.Network, resourceID, want),
			map[string]interface{}{"network": string(canonical.Network), "expected": string(want)})
		return g.reject(vc, challenge, StateRejected, pe, start)
	}

	detached := context.WithoutCancel(ctx)

	consumed, err := g.guard.IsConsumed(detached, resourceID, canonical.TxRef)
	if err != nil {
		return g.reject(vc, challenge, StateRejected, replayStoreError(err), start)
	}
	if consumed {
		return g.reject(vc, challenge, StateRejected, alreadyConsumed(canonical, resourceID), start)
	}

	for _, hook := range g.beforeVerifyHooksSnapshot() {
		res, err := hook(vc)
		if err != nil {
			g.logger.Error("before-verify hook failed", "resource", resourceID, "error", err)
		}
		if res != nil && res.Abort {
			pe := NewPaymentError(ErrCodePaymentRequired, res.Reason, nil)
			return g.reject(vc, challenge, StateRejected, pe, start)
		}
	}

	vctx, cancel := context.WithTimeout(detached, g.verifyTimeout)
	result, err := g.verifier.Verify(vctx, canonical, policy)
	if err == nil && vctx.Err() != nil {
		err = vctx.Err()
	}
	cancel()
	if err != nil {
		return g.reject(vc, challenge, StateRejected, toPaymentError(err), start)
	}

	verifiedAt := g.now()
	if pe := g.checkProofAge(result, verifiedAt); pe != nil {
		return g.reject(vc, challenge, StateRejected, pe, start)
	}
	for _, hook := range g.afterVerifyHooksSnapshot() {
		if err := hook(VerifyResultContext{VerifyContext: vc, Result: result, Duration: verifiedAt.Sub(start)}); err != nil {
			g.logger.Error("after-verify hook failed", "resource", resourceID, "error", err)
		}
	}

	record := ConsumedProofRecord{
		TxRef:      canonical.TxRef,
		ResourceID: resourceID,
		Network:    canonical.Network,
		Payer:      result.Payer,
		Amount:     result.Amount.String(),
		ConsumedAt: verifiedAt.UTC(),
	}

	status, err := g.guard.TryConsume(detached, record)
	if err != nil {
		return g.reject(vc, challenge, StateDenied, replayStoreError(err), start)
	}
	if status == AlreadyConsumed {
		// Lost the race against a concurrent request presenting the same proof.
		return g.reject(vc, challenge, StateDenied, alreadyConsumed(canonical, resourceID), start)
	}

	cc := ConsumedContext{VerifyContext: vc, Result: result, Record: record}
	for _, hook := range g.consumedHooksSnapshot() {
		if err := hook(cc); err != nil {
			g.logger.Error("consumed hook failed", "resource", resourceID, "error", err)
		}
	}

	g.logger.Info("payment accepted",
		"resource", resourceID,
		"network", canonical.Network,
		"tx_ref", canonical.TxRef,
		"payer", result.Payer,
		"amount", record.Amount,
		"duration", g.now().Sub(start),
	)

	return &ProcessResult{
		State:        StateForwarded,
		Policy:       &policy,
		Verification: result,
		Record:       &record,
	}
}

// ExecuteResult is a ProcessResult plus the protected operation's outcome
type ExecuteResult struct {
	*ProcessResult
	Output interface{}
	// OperationError is the protected operation's own error, unchanged.
	OperationError error
}

// Execute runs Process and, when the proof is accepted, invokes op exactly once.
// An operation failure is reported as downstream_operation_failed; the proof
// remains consumed.
func (g *Gateway) Execute(ctx context.Context, resourceID string, proof *PaymentProof, op OperationFunc) *ExecuteResult {
	res := &ExecuteResult{ProcessResult: g.Process(ctx, resourceID, proof)}
	if !res.Granted() {
		return res
	}

	start := g.now()
	out, err := op(ctx)
	if err != nil {
		res.OperationError = err
		res.Error = WrapPaymentError(ErrCodeDownstreamFailed, err.Error(), err,
			map[string]interface{}{"resourceId": resourceID})
		g.ReportDownstreamFailure(ctx, res.ProcessResult, err, g.now().Sub(start))
		return res
	}
	res.Output = out
	return res
}

// ReportDownstreamFailure logs a protected operation failure for a granted
// result and runs the downstream failure hooks. Transport adapters that call
// the operation themselves use this to report errors.
func (g *Gateway) ReportDownstreamFailure(ctx context.Context, res *ProcessResult, err error, d time.Duration) {
	if res == nil || res.Record == nil {
		return
	}
	g.logger.Warn("protected operation failed after payment was consumed",
		"resource", res.Record.ResourceID,
		"tx_ref", res.Record.TxRef,
		"error", err,
	)
	fc := DownstreamFailureContext{
		ConsumedContext: ConsumedContext{
			VerifyContext: VerifyContext{
				Ctx:        ctx,
				ResourceID: res.Record.ResourceID,
				Proof:      PaymentProof{TxRef: res.Record.TxRef, Network: res.Record.Network, ResourceID: res.Record.ResourceID},
				Policy:     derefPolicy(res.Policy),
				Timestamp:  res.Record.ConsumedAt,
			},
			Result: res.Verification,
			Record: *res.Record,
		},
		Error:    err,
		Duration: d,
	}
	for _, hook := range g.downstreamFailureHooksSnapshot() {
		if herr := hook(fc); herr != nil {
			g.logger.Error("downstream-failure hook failed", "resource", res.Record.ResourceID, "error", herr)
		}
	}
}

func (g *Gateway) reject(vc VerifyContext, challenge *PaymentChallenge, state State, pe *PaymentError, start time.Time) *ProcessResult {
	d := g.now().Sub(start)
	level := slog.LevelWarn
	if pe.Retryable {
		level = slog.LevelInfo
	}
	g.logger.Log(vc.Ctx, level, "payment proof rejected",
		"resource", vc.ResourceID,
		"network", vc.Proof.Network,
		"tx_ref", vc.Proof.TxRef,
		"state", state,
		"code", pe.Code,
		"retryable", pe.Retryable,
		"reason", pe.Message,
	)

	for _, hook := range g.rejectionHooksSnapshot() {
		if err := hook(RejectionContext{VerifyContext: vc, Error: pe, State: state, Duration: d}); err != nil {
			g.logger.Error("rejection hook failed", "resource", vc.ResourceID, "error", err)
		}
	}

	policy := vc.Policy
	return &ProcessResult{State: state, Policy: &policy, Challenge: challenge, Error: pe}
}

func (g *Gateway) runChallengeHooks(cc ChallengeContext) {
	g.mu.RLock()
	hooks := g.challengeHooks
	g.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(cc); err != nil {
			g.logger.Error("challenge hook failed", "resource", cc.ResourceID, "error", err)
		}
	}
}

func (g *Gateway) beforeVerifyHooksSnapshot() []BeforeVerifyHook {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.beforeVerifyHooks
}

// checkProofAge refuses transactions older than maxProofAge, or of unknown
// age when a limit is set.
func (g *Gateway) checkProofAge(result *VerificationResult, now time.Time) *PaymentError {
	if g.maxProofAge <= 0 {
		return nil
	}
	details := map[string]interface{}{
		"txRef":  result.TxRef,
		"maxAge": g.maxProofAge.String(),
	}
	if result.BlockTime.IsZero() {
		return NewPaymentError(ErrCodeProofExpired, "ledger did not report a block time for the transaction", details)
	}
	if now.Sub(result.BlockTime) < g.maxProofAge {
		return nil
	}
	details["blockTime"] = result.BlockTime.UTC().Format(time.RFC3339)
	return NewPaymentError(ErrCodeProofExpired,
		fmt.Sprintf("transaction is older than %s and can no longer be redeemed", g.maxProofAge), details)
}

func (g *Gateway) afterVerifyHooksSnapshot() []AfterVerifyHook {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.afterVerifyHooks
}

func (g *Gateway) rejectionHooksSnapshot() []RejectionHook {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rejectionHooks
}

func (g *Gateway) consumedHooksSnapshot() []ConsumedHook {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.consumedHooks
}

func (g *Gateway) downstreamFailureHooksSnapshot() []DownstreamFailureHook {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.downstreamFailureHooks
}

func claimsResource(proof *PaymentProof, resourceID string) bool {
	claimed := strings.TrimSpace(proof.ResourceID)
	return claimed == "" || claimed == resourceID
}

func toPaymentError(err error) *PaymentError {
	if pe, ok := AsPaymentError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WrapPaymentError(ErrCodeLedgerUnreachable, "ledger verification timed out", err, nil)
	}
	return WrapPaymentError(ErrCodeLedgerUnreachable, err.Error(), err, nil)
}

func replayStoreError(err error) *PaymentError {
	return WrapPaymentError(ErrCodeReplayStore, "replay guard unavailable, retry later", err, nil)
}

func alreadyConsumed(proof PaymentProof, resourceID string) *PaymentError {
	return NewPaymentError(ErrCodeAlreadyConsumed,
		"this payment proof has already been used for this resource; submit a new payment",
		map[string]interface{}{"txRef": proof.TxRef, "resourceId": resourceID, "network": string(proof.Network)})
}

func derefPolicy(p *PricePolicy) PricePolicy {
	if p == nil {
		return PricePolicy{}
	}
	return *p
}
