package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// ErrPaymentRetryLimit is returned when a proof is still not final after the
// configured number of attempts
var ErrPaymentRetryLimit = errors.New("payment retry limit exceeded")

// Client calls tools on a session and pays their challenges
type Client struct {
	session    *mcpsdk.ClientSession
	payer      x402.Payer
	maxRetries int
	retryDelay time.Duration
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithMaxRetries sets how often a not-yet-final proof is resubmitted
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the wait between resubmissions
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// NewClient wraps a connected session
func NewClient(session *mcpsdk.ClientSession, payer x402.Payer, opts ...ClientOption) *Client {
	c := &Client{session: session, payer: payer, maxRetries: 3, retryDelay: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallTool calls a tool, paying the challenge if the first call returns one.
// Rejections other than not_yet_finalized are returned as the tool result.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcpsdk.CallToolResult, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	challenge, ok := PaymentRequired(result)
	if !ok || challenge.Error != x402.ErrCodePaymentRequired {
		return result, nil
	}

	proof, err := c.payer.Pay(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment challenge: %w", err)
	}
	return c.CallToolWithProof(ctx, name, args, proof)
}

// CallToolWithProof calls a tool with proof attached, resubmitting the same
// proof while the ledger reports it as not final.
func (c *Client) CallToolWithProof(ctx context.Context, name string, args any, proof x402.PaymentProof) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Meta: ProofMeta(proof), Name: name, Arguments: args}
	for attempt := 0; ; attempt++ {
		result, err := c.session.CallTool(ctx, params)
		if err != nil {
			return nil, err
		}
		rejection, ok := PaymentRequired(result)
		if !ok || rejection.Error != x402.ErrCodeNotYetFinalized {
			return result, nil
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("%w: transaction %s not final after %d attempts", ErrPaymentRetryLimit, proof.TxRef, attempt+1)
		}
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PaymentRequired decodes the challenge or rejection carried by an error
// result
func PaymentRequired(result *mcpsdk.CallToolResult) (x402.PaymentRequiredResponse, bool) {
	var resp x402.PaymentRequiredResponse
	if result == nil || !result.IsError || result.StructuredContent == nil {
		return resp, false
	}
	data, err := json.Marshal(result.StructuredContent)
	if err != nil {
		return resp, false
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.X402Version == 0 || resp.Error == "" {
		return resp, false
	}
	return resp, true
}

// PaymentResponse returns the consumed proof record from a paid result
func PaymentResponse(result *mcpsdk.CallToolResult) (*x402.ConsumedProofRecord, bool) {
	if result == nil || result.Meta == nil {
		return nil, false
	}
	raw, ok := result.Meta[MCP_PAYMENT_RESPONSE_META_KEY]
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var record x402.ConsumedProofRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false
	}
	return &record, true
}
