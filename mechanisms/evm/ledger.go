package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	x402 "github.com/x402-foundation/x402-summarizer"
)

var (
	txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

	transferABI   abi.ABI
	transferTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(bytes.NewReader(TransferEventABI))
	if err != nil {
		panic(fmt.Sprintf("evm: parse transfer abi: %v", err))
	}
	transferABI = parsed
	transferTopic = parsed.Events["Transfer"].ID
}

// Ledger reads EVM transactions through a JSON-RPC node
type Ledger struct {
	network x402.Network
	config  NetworkConfig
	reader  ChainReader
	limiter *rate.Limiter
	closer  func()
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithRateLimit caps RPC requests per second sent by one lookup path
func WithRateLimit(rps float64, burst int) LedgerOption {
	return func(l *Ledger) {
		if rps > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithNetworkConfig overrides the built-in configuration for the network
func WithNetworkConfig(cfg NetworkConfig) LedgerOption {
	return func(l *Ledger) {
		l.config = cfg
	}
}

// NewLedger creates a ledger for a configured network reading through reader
func NewLedger(network x402.Network, reader ChainReader, opts ...LedgerOption) (*Ledger, error) {
	network = network.Normalize()
	l := &Ledger{network: network, reader: reader}
	if cfg, ok := NetworkConfigs[network]; ok {
		l.config = cfg
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.config.ChainID == nil {
		return nil, fmt.Errorf("evm: no configuration for network %s", network)
	}
	if reader == nil {
		return nil, errors.New("evm: chain reader is required")
	}
	return l, nil
}

// Dial connects to rpcURL and checks that the node serves the network's chain
func Dial(ctx context.Context, network x402.Network, rpcURL string, opts ...LedgerOption) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", network, err)
	}
	l, err := NewLedger(network, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: chain id for %s: %w", network, err)
	}
	if chainID.Cmp(l.config.ChainID) != 0 {
		client.Close()
		return nil, fmt.Errorf("evm: rpc serves chain %s, network %s expects %s", chainID, network, l.config.ChainID)
	}
	l.closer = client.Close
	return l, nil
}

// Close releases the RPC connection opened by Dial
func (l *Ledger) Close() {
	if l.closer != nil {
		l.closer()
	}
}

// Network returns the CAIP-2 identifier of the ledger
func (l *Ledger) Network() x402.Network {
	return l.network
}

// NormalizeReference accepts a 32-byte hex transaction hash in any case
func (l *Ledger) NormalizeReference(txRef string) (string, error) {
	ref := strings.ToLower(strings.TrimSpace(txRef))
	if !strings.HasPrefix(ref, "0x") {
		ref = "0x" + ref
	}
	if !txHashPattern.MatchString(ref) {
		return "", fmt.Errorf("%w: %q is not a 32-byte hex transaction hash", x402.ErrMalformedReference, txRef)
	}
	return ref, nil
}

// NormalizeAddress returns the lower-case hex form of an address
func (l *Ledger) NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid evm address %q", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// ResolveAsset maps a symbol to the lower-case token contract address, or to
// NativeAssetID for the chain's coin. A contract address resolves to itself.
func (l *Ledger) ResolveAsset(symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if strings.EqualFold(symbol, l.config.Native.Symbol) {
		return NativeAssetID, nil
	}
	if asset, ok := l.config.Assets[strings.ToUpper(symbol)]; ok {
		return strings.ToLower(asset.Address), nil
	}
	if common.IsHexAddress(symbol) {
		return strings.ToLower(common.HexToAddress(symbol).Hex()), nil
	}
	return "", fmt.Errorf("asset %s is not configured on %s", symbol, l.network)
}

// GetTransaction reads a mined transaction with its receipt and the current
// head to count confirmations.
func (l *Ledger) GetTransaction(ctx context.Context, txRef string) (*x402.LedgerTransaction, error) {
	ref, err := l.NormalizeReference(txRef)
	if err != nil {
		return nil, err
	}
	hash := common.HexToHash(ref)

	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	tx, pending, err := l.reader.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, l.lookupError(ref, err)
	}

	out := &x402.LedgerTransaction{
		TxRef:   ref,
		Network: l.network,
	}
	if id := tx.ChainId(); id != nil && id.Sign() > 0 && id.Cmp(l.config.ChainID) != 0 {
		out.Network = x402.Network(fmt.Sprintf("eip155:%s", id))
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		out.Payer = strings.ToLower(from.Hex())
	}
	if pending {
		return out, nil
	}

	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	receipt, err := l.reader.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// Known to the node but not mined yet.
			return out, nil
		}
		return nil, l.lookupError(ref, err)
	}

	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	head, err := l.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number on %s: %v", x402.ErrLedgerUnavailable, l.network, err)
	}

	if receipt.BlockNumber != nil {
		out.BlockRef = receipt.BlockNumber.String()
		if mined := receipt.BlockNumber.Uint64(); head >= mined {
			out.Confirmations = head - mined + 1
		}

		if err := l.wait(ctx); err != nil {
			return nil, err
		}
		header, err := l.reader.HeaderByNumber(ctx, receipt.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: header %s on %s: %v", x402.ErrLedgerUnavailable, receipt.BlockNumber, l.network, err)
		}
		out.BlockTime = time.Unix(int64(header.Time), 0).UTC()
	}
	out.Finalized = out.Confirmations >= l.requiredConfirmations()
	out.Failed = receipt.Status != TxStatusSuccess
	if out.Failed {
		return out, nil
	}

	if to := tx.To(); to != nil && tx.Value() != nil && tx.Value().Sign() > 0 {
		out.Transfers = append(out.Transfers, x402.Transfer{
			From:   out.Payer,
			To:     strings.ToLower(to.Hex()),
			Asset:  NativeAssetID,
			Amount: new(big.Int).Set(tx.Value()),
		})
	}
	out.Transfers = append(out.Transfers, transfersFromLogs(receipt.Logs)...)
	return out, nil
}

func (l *Ledger) requiredConfirmations() uint64 {
	if l.config.Confirmations == 0 {
		return 1
	}
	return l.config.Confirmations
}

func (l *Ledger) wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit on %s: %v", x402.ErrLedgerUnavailable, l.network, err)
	}
	return nil
}

func (l *Ledger) lookupError(ref string, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %s on %s", x402.ErrTransactionNotFound, ref, l.network)
	}
	return fmt.Errorf("%w: %s: %v", x402.ErrLedgerUnavailable, l.network, err)
}

// transfersFromLogs extracts ERC-20 Transfer events. Asset is the lower-case
// emitting contract address.
func transfersFromLogs(logs []*types.Log) []x402.Transfer {
	var out []x402.Transfer
	for _, lg := range logs {
		if lg == nil || lg.Removed || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		values, err := transferABI.Unpack("Transfer", lg.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		out = append(out, x402.Transfer{
			From:   strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
			To:     strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
			Asset:  strings.ToLower(lg.Address.Hex()),
			Amount: amount,
		})
	}
	return out
}
