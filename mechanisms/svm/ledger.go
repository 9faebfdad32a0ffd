// Package svm reads SPL token payments from a Solana cluster.
//
// Only token transfers are recognized. A transfer is derived from the
// pre- and post-transaction token balances, so the transaction body itself
// never has to be decoded.
package svm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// RPC is the subset of *rpc.Client the ledger uses
type RPC interface {
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Ledger is a LedgerClient for one Solana cluster
type Ledger struct {
	network x402.Network
	config  NetworkConfig
	client  RPC
}

// NewLedger creates a ledger for a configured cluster
func NewLedger(network x402.Network, client RPC) (*Ledger, error) {
	network = network.Normalize()
	cfg, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("svm: no configuration for network %s", network)
	}
	if client == nil {
		return nil, errors.New("svm: rpc client is required")
	}
	return &Ledger{network: network, config: cfg, client: client}, nil
}

// Dial creates a ledger talking JSON-RPC to rpcURL, or to the cluster's
// public endpoint when rpcURL is empty.
func Dial(network x402.Network, rpcURL string) (*Ledger, error) {
	cfg, ok := NetworkConfigs[network.Normalize()]
	if !ok {
		return nil, fmt.Errorf("svm: no configuration for network %s", network)
	}
	if rpcURL == "" {
		rpcURL = cfg.RPCURL
	}
	return NewLedger(network, rpc.New(rpcURL))
}

func (l *Ledger) Network() x402.Network {
	return l.network
}

// NormalizeReference checks that txRef is a base58 transaction signature.
// Base58 is case sensitive, so the canonical form is the input itself.
func (l *Ledger) NormalizeReference(txRef string) (string, error) {
	txRef = strings.TrimSpace(txRef)
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a solana signature", x402.ErrMalformedReference, txRef)
	}
	return sig.String(), nil
}

func (l *Ledger) NormalizeAddress(address string) (string, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return pk.String(), nil
}

// ResolveAsset maps a symbol to its mint. A mint address resolves to itself.
func (l *Ledger) ResolveAsset(symbol string) (string, error) {
	if a, ok := l.config.Assets[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return a.Mint, nil
	}
	if pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(symbol)); err == nil {
		return pk.String(), nil
	}
	return "", fmt.Errorf("asset %s is not configured on %s", symbol, l.network)
}

// GetTransaction reads a confirmed transaction and its finality status
func (l *Ledger) GetTransaction(ctx context.Context, txRef string) (*x402.LedgerTransaction, error) {
	ref, err := l.NormalizeReference(txRef)
	if err != nil {
		return nil, err
	}
	sig := solana.MustSignatureFromBase58(ref)

	maxVersion := uint64(0)
	res, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, l.lookupError(ref, err)
	}
	if res == nil || res.Meta == nil {
		return nil, fmt.Errorf("%w: %s on %s", x402.ErrTransactionNotFound, ref, l.network)
	}

	out := &x402.LedgerTransaction{
		TxRef:    ref,
		Network:  l.network,
		BlockRef: fmt.Sprintf("%d", res.Slot),
		Failed:   res.Meta.Err != nil,
	}
	if res.BlockTime != nil {
		out.BlockTime = time.Unix(int64(*res.BlockTime), 0).UTC()
	}

	statuses, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil && !errors.Is(err, rpc.ErrNotFound) {
		return nil, l.lookupError(ref, err)
	}
	if statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
		st := statuses.Value[0]
		switch {
		case st.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
			out.Finalized = true
			out.Confirmations = finalizedConfirmations
		case st.Confirmations != nil:
			out.Confirmations = *st.Confirmations
		}
	}

	if out.Failed {
		return out, nil
	}
	out.Transfers, out.Payer = tokenTransfers(res.Meta)
	return out, nil
}

func (l *Ledger) lookupError(ref string, err error) error {
	if errors.Is(err, rpc.ErrNotFound) {
		return fmt.Errorf("%w: %s on %s", x402.ErrTransactionNotFound, ref, l.network)
	}
	return fmt.Errorf("%w: %s: %v", x402.ErrLedgerUnavailable, l.network, err)
}

type balanceKey struct {
	owner string
	mint  string
}

// tokenTransfers nets token balance changes per owner and mint. Every owner
// whose balance grew is reported as a transfer from the owner with the largest
// decrease of the same mint, who is also returned as the payer.
func tokenTransfers(meta *rpc.TransactionMeta) ([]x402.Transfer, string) {
	deltas := make(map[balanceKey]*big.Int)
	apply := func(balances []rpc.TokenBalance, sign int) {
		for _, b := range balances {
			if b.Owner == nil || b.UiTokenAmount == nil {
				continue
			}
			amount, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
			if !ok {
				continue
			}
			k := balanceKey{owner: b.Owner.String(), mint: b.Mint.String()}
			if deltas[k] == nil {
				deltas[k] = new(big.Int)
			}
			if sign < 0 {
				deltas[k].Sub(deltas[k], amount)
			} else {
				deltas[k].Add(deltas[k], amount)
			}
		}
	}
	apply(meta.PreTokenBalances, -1)
	apply(meta.PostTokenBalances, 1)

	keys := make([]balanceKey, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].mint != keys[j].mint {
			return keys[i].mint < keys[j].mint
		}
		return keys[i].owner < keys[j].owner
	})

	senders := make(map[string]string)
	largest := make(map[string]*big.Int)
	for _, k := range keys {
		d := deltas[k]
		if d.Sign() < 0 && (largest[k.mint] == nil || d.Cmp(largest[k.mint]) < 0) {
			largest[k.mint] = d
			senders[k.mint] = k.owner
		}
	}

	var transfers []x402.Transfer
	var payer string
	for _, k := range keys {
		d := deltas[k]
		if d.Sign() <= 0 {
			continue
		}
		from := senders[k.mint]
		if payer == "" {
			payer = from
		}
		transfers = append(transfers, x402.Transfer{
			From:   from,
			To:     k.owner,
			Asset:  k.mint,
			Amount: new(big.Int).Set(d),
		})
	}
	return transfers, payer
}
