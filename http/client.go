package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// ErrPaymentRetryLimit is returned when a proof is still not final after the
// configured number of attempts
var ErrPaymentRetryLimit = errors.New("payment retry limit exceeded")

// PaymentRoundTripper pays 402 challenges and resubmits the request with the
// proof. A not_yet_finalized rejection is retried with the same proof after
// the server's Retry-After.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	Payer      x402.Payer
	MaxRetries int
	RetryDelay time.Duration
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	ctx := req.Context()

	resp, err := transport.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	challenge, err := readChallenge(resp)
	if err != nil {
		return nil, err
	}
	if challenge.Error != x402.ErrCodePaymentRequired || req.Header.Get(x402.HeaderTxHash) != "" {
		// Already carried a proof, or the rejection is not a plain challenge.
		return resp, nil
	}

	proof, err := t.Payer.Pay(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment challenge: %w", err)
	}

	for attempt := 0; ; attempt++ {
		paid, err := cloneWithProof(req, proof)
		if err != nil {
			return nil, err
		}
		resp, err = transport.RoundTrip(paid)
		if err != nil || resp.StatusCode != http.StatusPaymentRequired {
			return resp, err
		}

		rejection, err := readChallenge(resp)
		if err != nil {
			return nil, err
		}
		if rejection.Error != x402.ErrCodeNotYetFinalized {
			return resp, nil
		}
		if attempt >= t.MaxRetries {
			return nil, fmt.Errorf("%w: transaction %s not final after %d attempts", ErrPaymentRetryLimit, proof.TxRef, attempt+1)
		}

		select {
		case <-time.After(t.retryDelay(resp)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *PaymentRoundTripper) retryDelay(resp *http.Response) time.Duration {
	if t.RetryDelay > 0 {
		return t.RetryDelay
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return DefaultRetryAfter
}

// readChallenge decodes a 402 body and restores it for the caller
func readChallenge(resp *http.Response) (x402.PaymentRequiredResponse, error) {
	var challenge x402.PaymentRequiredResponse
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return challenge, fmt.Errorf("failed to read 402 response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err := json.Unmarshal(body, &challenge); err != nil {
		return challenge, fmt.Errorf("failed to parse payment challenge: %w", err)
	}
	return challenge, nil
}

func cloneWithProof(req *http.Request, proof x402.PaymentProof) (*http.Request, error) {
	paid := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body cannot be replayed after payment")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		paid.Body = body
	}
	SetProofHeaders(paid.Header, proof)
	return paid, nil
}

// ClientOption configures a paying client
type ClientOption func(*PaymentRoundTripper)

// WithMaxRetries sets how many times a not-yet-final proof is resubmitted
func WithMaxRetries(n int) ClientOption {
	return func(t *PaymentRoundTripper) {
		t.MaxRetries = n
	}
}

// WithRetryDelay overrides the server's Retry-After between resubmissions
func WithRetryDelay(d time.Duration) ClientOption {
	return func(t *PaymentRoundTripper) {
		t.RetryDelay = d
	}
}

// WrapClient wraps a standard HTTP client with payment handling
func WrapClient(client *http.Client, payer x402.Payer, opts ...ClientOption) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	rt := &PaymentRoundTripper{
		Transport:  client.Transport,
		Payer:      payer,
		MaxRetries: 3,
	}
	for _, opt := range opts {
		opt(rt)
	}
	wrapped := *client
	wrapped.Transport = rt
	return &wrapped
}

// GetPaymentResponse decodes the X-Payment-Response header of a response
func GetPaymentResponse(resp *http.Response) (*PaymentResponse, error) {
	value := resp.Header.Get(x402.HeaderPaymentResponse)
	if value == "" {
		return nil, errors.New("payment response header not found")
	}
	return DecodePaymentResponseHeader(value)
}
