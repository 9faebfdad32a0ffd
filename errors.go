package x402

import (
	"errors"
	"fmt"
	"net/http"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
	cause     error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying ledger or store error, if any
func (e *PaymentError) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the status code the error is reported with
func (e *PaymentError) HTTPStatus() int {
	return HTTPStatus(e.Code)
}

// Permanent reports whether the same proof can never succeed
func (e *PaymentError) Permanent() bool {
	return !e.Retryable && e.Code != ErrCodePaymentRequired && e.Code != ErrCodeDownstreamFailed
}

// Error codes
const (
	ErrCodePaymentRequired     = "payment_required"
	ErrCodeMalformedProof      = "malformed_proof"
	ErrCodeProofNotFound       = "proof_not_found"
	ErrCodeInsufficientPayment = "insufficient_payment"
	ErrCodeWrongRecipient      = "wrong_recipient"
	ErrCodeWrongNetwork        = "wrong_network"
	ErrCodeUnsupportedNetwork  = "unsupported_network"
	ErrCodeNotYetFinalized     = "not_yet_finalized"
	ErrCodeAlreadyConsumed     = "already_consumed"
	ErrCodeProofExpired        = "proof_expired"
	ErrCodeLedgerUnreachable   = "ledger_unreachable"
	ErrCodeDownstreamFailed    = "downstream_operation_failed"
	ErrCodeResourceNotFound    = "resource_not_found"
	ErrCodeInvalidPolicy       = "invalid_policy"
	ErrCodeReplayStore         = "replay_store_failure"
)

// Ledger client sentinels. Implementations wrap these so the verifier can
// classify failures with errors.Is.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMalformedReference  = errors.New("malformed transaction reference")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
		Details:   details,
	}
}

// WrapPaymentError creates a payment error that carries an underlying cause
func WrapPaymentError(code, message string, cause error, details map[string]interface{}) *PaymentError {
	e := NewPaymentError(code, message, details)
	e.cause = cause
	return e
}

// AsPaymentError extracts a PaymentError from an error chain
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HTTPStatus maps an error code to its HTTP status
func HTTPStatus(code string) int {
	switch code {
	case ErrCodePaymentRequired,
		ErrCodeProofNotFound,
		ErrCodeInsufficientPayment,
		ErrCodeWrongRecipient,
		ErrCodeWrongNetwork,
		ErrCodeUnsupportedNetwork,
		ErrCodeNotYetFinalized:
		return http.StatusPaymentRequired
	case ErrCodeMalformedProof:
		return http.StatusBadRequest
	case ErrCodeAlreadyConsumed, ErrCodeProofExpired:
		return http.StatusConflict
	case ErrCodeLedgerUnreachable, ErrCodeReplayStore:
		return http.StatusServiceUnavailable
	case ErrCodeResourceNotFound:
		return http.StatusNotFound
	case ErrCodeDownstreamFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNotYetFinalized, ErrCodeLedgerUnreachable, ErrCodeReplayStore:
		return true
	}
	return false
}
