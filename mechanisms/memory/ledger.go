// Package memory provides an in-process ledger for demos and tests.
//
// Transactions are added by hand with AddTransaction, and lookups read them back
// exactly like a chain client would. It has no persistence and no consensus;
// never point a production gateway at it.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	x402 "github.com/x402-foundation/x402-summarizer"
)

const maxReferenceLength = 128

// Ledger is an in-memory LedgerClient
type Ledger struct {
	mu          sync.RWMutex
	network     x402.Network
	txs         map[string]x402.LedgerTransaction
	assets      map[string]string
	unavailable bool
	latency     time.Duration

	lookups atomic.Int64
}

// Option configures a Ledger
type Option func(*Ledger)

// WithAsset maps an asset symbol to the identifier used in transfers
func WithAsset(symbol, id string) Option {
	return func(l *Ledger) {
		l.assets[strings.ToUpper(symbol)] = id
	}
}

// WithLatency delays every lookup, honoring context cancellation
func WithLatency(d time.Duration) Option {
	return func(l *Ledger) {
		l.latency = d
	}
}

// NewLedger creates an empty ledger for network. Without WithAsset options any
// symbol resolves to itself (upper-cased).
func NewLedger(network x402.Network, opts ...Option) *Ledger {
	l := &Ledger{
		network: network,
		txs:     make(map[string]x402.LedgerTransaction),
		assets:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Payment is a convenience for recording a single-transfer transaction
type Payment struct {
	TxRef     string
	From      string
	To        string
	Asset     string
	Amount    int64
	Finalized bool
	BlockTime time.Time
}

// AddPayment records a single transfer of Asset from From to To
func (l *Ledger) AddPayment(p Payment) {
	confirmations := uint64(0)
	if p.Finalized {
		confirmations = 1
	}
	l.AddTransaction(x402.LedgerTransaction{
		TxRef:         p.TxRef,
		Network:       l.network,
		Payer:         p.From,
		Transfers:     []x402.Transfer{{From: p.From, To: p.To, Asset: strings.ToUpper(p.Asset), Amount: big.NewInt(p.Amount)}},
		Confirmations: confirmations,
		Finalized:     p.Finalized,
		BlockTime:     p.BlockTime,
	})
}

// AddTransaction records tx under its normalized reference. A zero
// BlockTime is stamped with the current time.
func (l *Ledger) AddTransaction(tx x402.LedgerTransaction) {
	ref := strings.ToLower(strings.TrimSpace(tx.TxRef))
	tx.TxRef = ref
	if tx.Network == "" {
		tx.Network = l.network
	}
	if tx.BlockTime.IsZero() {
		tx.BlockTime = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[ref] = tx
}

// Finalize marks a recorded transaction as final
func (l *Ledger) Finalize(txRef string) {
	ref := strings.ToLower(strings.TrimSpace(txRef))
	l.mu.Lock()
	defer l.mu.Unlock()
	if tx, ok := l.txs[ref]; ok {
		tx.Finalized = true
		tx.Confirmations++
		l.txs[ref] = tx
	}
}

// SetUnavailable makes every lookup fail as if the node were down
func (l *Ledger) SetUnavailable(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = down
}

// Lookups returns the number of GetTransaction calls served
func (l *Ledger) Lookups() int64 {
	return l.lookups.Load()
}

func (l *Ledger) Network() x402.Network {
	return l.network
}

func (l *Ledger) NormalizeReference(txRef string) (string, error) {
	ref := strings.ToLower(strings.TrimSpace(txRef))
	if ref == "" || len(ref) > maxReferenceLength || strings.ContainsAny(ref, " \t\r\n/") {
		return "", fmt.Errorf("%w: %q", x402.ErrMalformedReference, txRef)
	}
	return ref, nil
}

func (l *Ledger) NormalizeAddress(address string) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", fmt.Errorf("empty address")
	}
	return a, nil
}

func (l *Ledger) ResolveAsset(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("empty asset symbol")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.assets) == 0 {
		return s, nil
	}
	id, ok := l.assets[s]
	if !ok {
		return "", fmt.Errorf("asset %s is not known on %s", symbol, l.network)
	}
	return id, nil
}

func (l *Ledger) GetTransaction(ctx context.Context, txRef string) (*x402.LedgerTransaction, error) {
	l.lookups.Add(1)

	if l.latency > 0 {
		timer := time.NewTimer(l.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", x402.ErrLedgerUnavailable, ctx.Err())
		case <-timer.C:
		}
	}

	ref, err := l.NormalizeReference(txRef)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.unavailable {
		return nil, fmt.Errorf("%w: %s is down", x402.ErrLedgerUnavailable, l.network)
	}
	tx, ok := l.txs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", x402.ErrTransactionNotFound, ref)
	}

	out := tx
	out.Transfers = make([]x402.Transfer, len(tx.Transfers))
	for i, t := range tx.Transfers {
		out.Transfers[i] = t
		if t.Amount != nil {
			out.Transfers[i].Amount = new(big.Int).Set(t.Amount)
		}
	}
	return &out, nil
}

var _ x402.LedgerClient = (*Ledger)(nil)
