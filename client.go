package x402

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Payer settles a challenge and returns the proof of payment. The gateway
// never pays; payers live on the caller side (wallet integrations, scripts,
// or a transaction the user already sent).
type Payer interface {
	Pay(ctx context.Context, challenge PaymentRequiredResponse) (PaymentProof, error)
}

// PayerFunc adapts a function to Payer
type PayerFunc func(ctx context.Context, challenge PaymentRequiredResponse) (PaymentProof, error)

func (f PayerFunc) Pay(ctx context.Context, challenge PaymentRequiredResponse) (PaymentProof, error) {
	return f(ctx, challenge)
}

// StaticProof answers every challenge with a transaction that was already
// sent. An empty network takes the challenge's network.
func StaticProof(txRef string, network Network) Payer {
	return PayerFunc(func(_ context.Context, c PaymentRequiredResponse) (PaymentProof, error) {
		n := network
		if n == "" {
			n = c.Network
		}
		return PaymentProof{TxRef: txRef, Network: n, ResourceID: c.ResourceID}, nil
	})
}

// Client routes a challenge to the payer registered for its network.
// Patterns such as "eip155:*" are matched after exact registrations.
type Client struct {
	mu     sync.RWMutex
	payers map[Network]Payer
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithPayer registers a payer at creation time
func WithPayer(network Network, payer Payer) ClientOption {
	return func(c *Client) {
		c.payers[network.Normalize()] = payer
	}
}

// NewClient creates a client with no payers registered
func NewClient(opts ...ClientOption) *Client {
	c := &Client{payers: make(map[Network]Payer)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a payer for a network or network pattern
func (c *Client) Register(network Network, payer Payer) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payers[network.Normalize()] = payer
	return c
}

// CanPay reports whether a payer is registered for network
func (c *Client) CanPay(network Network) bool {
	_, ok := c.payer(network.Normalize())
	return ok
}

// Pay implements Payer
func (c *Client) Pay(ctx context.Context, challenge PaymentRequiredResponse) (PaymentProof, error) {
	network := challenge.Network.Normalize()
	p, ok := c.payer(network)
	if !ok {
		return PaymentProof{}, fmt.Errorf("no payer registered for network %s", network)
	}
	proof, err := p.Pay(ctx, challenge)
	if err != nil {
		return PaymentProof{}, err
	}
	if proof.ResourceID == "" {
		proof.ResourceID = challenge.ResourceID
	}
	return proof, nil
}

func (c *Client) payer(network Network) (Payer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.payers[network]; ok {
		return p, true
	}
	patterns := make([]Network, 0, len(c.payers))
	for n := range c.payers {
		patterns = append(patterns, n)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })
	for _, n := range patterns {
		if network.Match(n) {
			return c.payers[n], true
		}
	}
	return nil, false
}
