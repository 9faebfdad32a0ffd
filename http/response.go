package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// DefaultRetryAfter is advertised on retryable rejections
const DefaultRetryAfter = 5 * time.Second

// PaymentResponse is the decoded X-Payment-Response header
type PaymentResponse struct {
	Success     bool         `json:"success"`
	Transaction string       `json:"transaction"`
	Network     x402.Network `json:"network"`
	Payer       string       `json:"payer,omitempty"`
	Amount      string       `json:"amount,omitempty"`
	ResourceID  string       `json:"resourceId"`
	ConsumedAt  time.Time    `json:"consumedAt"`
}

// EncodePaymentResponseHeader encodes a consumed proof as base64 JSON
func EncodePaymentResponseHeader(record x402.ConsumedProofRecord) (string, error) {
	data, err := json.Marshal(PaymentResponse{
		Success:     true,
		Transaction: record.TxRef,
		Network:     record.Network,
		Payer:       record.Payer,
		Amount:      record.Amount,
		ResourceID:  record.ResourceID,
		ConsumedAt:  record.ConsumedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentResponseHeader decodes an X-Payment-Response header value
func DecodePaymentResponseHeader(value string) (*PaymentResponse, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	var resp PaymentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid payment response JSON: %w", err)
	}
	return &resp, nil
}

// ApplyHeaders sets the response headers for a gateway result: Retry-After on
// retryable rejections and X-Payment-Response once a proof is consumed.
func ApplyHeaders(h http.Header, res *x402.ProcessResult, retryAfter time.Duration) error {
	if res.Error != nil && res.Error.Retryable {
		if retryAfter <= 0 {
			retryAfter = DefaultRetryAfter
		}
		h.Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
	}
	if res.Granted() && res.Record != nil {
		value, err := EncodePaymentResponseHeader(*res.Record)
		if err != nil {
			return err
		}
		h.Set(x402.HeaderPaymentResponse, value)
	}
	return nil
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteResult writes the response for a result that was not granted. Browsers
// receive the paywall page for a plain challenge when paywall is set.
func WriteResult(w http.ResponseWriter, r *http.Request, res *x402.ProcessResult, options *MiddlewareOptions) {
	if options == nil {
		options = defaultOptions()
	}
	_ = ApplyHeaders(w.Header(), res, options.RetryAfter)

	status := res.StatusCode()
	if status == http.StatusPaymentRequired && res.Challenge != nil && options.Paywall != nil && IsWebBrowser(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(options.Paywall.GenerateHTML(res.Response())))
		return
	}
	writeJSON(w, status, res.Response())
}
