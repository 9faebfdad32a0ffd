package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AssetInfo describes an ERC-20 token on one network
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NativeAsset describes a chain's coin
type NativeAsset struct {
	Symbol   string
	Decimals int
}

// NetworkConfig describes an EVM network the ledger can read
type NetworkConfig struct {
	ChainID       *big.Int
	Name          string
	RPCURL        string
	Confirmations uint64
	Native        NativeAsset
	Assets        map[string]AssetInfo
}

// ChainReader is the subset of ethclient.Client the ledger reads through.
// *ethclient.Client satisfies it.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}
