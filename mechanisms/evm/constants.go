package evm

import (
	"math/big"
	"strings"

	x402 "github.com/x402-foundation/x402-summarizer"
)

const (
	// Default token decimals for USDC
	DefaultDecimals = 6

	// NativeAssetID is the Transfer.Asset value for value transfers of the chain's coin
	NativeAssetID = "native"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0
)

var (
	// Network chain IDs
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
	ChainIDSei         = big.NewInt(1329)
	ChainIDSeiTestnet  = big.NewInt(1328)

	// TransferEventABI is the ERC-20 Transfer event
	TransferEventABI = []byte(`[
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "from", "type": "address"},
				{"indexed": true, "name": "to", "type": "address"},
				{"indexed": false, "name": "value", "type": "uint256"}
			],
			"name": "Transfer",
			"type": "event"
		}
	]`)

	// Network configurations keyed by CAIP-2 identifier.
	//
	// Confirmations is the depth at which a transaction is treated as final.
	// Sei has single-block finality; Base confirmations cover L2 reorg depth.
	NetworkConfigs = map[x402.Network]NetworkConfig{
		// Base Mainnet
		"eip155:8453": {
			ChainID:       ChainIDBase,
			Name:          "base",
			RPCURL:        "https://mainnet.base.org",
			Confirmations: 10,
			Native:        NativeAsset{Symbol: "ETH", Decimals: 18},
			Assets: map[string]AssetInfo{
				"USDC": {Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals},
			},
		},
		// Base Sepolia Testnet
		"eip155:84532": {
			ChainID:       ChainIDBaseSepolia,
			Name:          "base-sepolia",
			RPCURL:        "https://sepolia.base.org",
			Confirmations: 3,
			Native:        NativeAsset{Symbol: "ETH", Decimals: 18},
			Assets: map[string]AssetInfo{
				"USDC": {Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USDC", Version: "2", Decimals: DefaultDecimals},
			},
		},
		// Sei Mainnet
		"eip155:1329": {
			ChainID:       ChainIDSei,
			Name:          "sei",
			RPCURL:        "https://evm-rpc.sei-apis.com",
			Confirmations: 1,
			Native:        NativeAsset{Symbol: "SEI", Decimals: 18},
			Assets: map[string]AssetInfo{
				"USDC": {Address: "0xe15fC38F6D8c56aF07bbCBe3BAf5708A2Bf42392", Name: "USDC", Version: "2", Decimals: DefaultDecimals},
			},
		},
		// Sei Testnet (atlantic-2)
		"eip155:1328": {
			ChainID:       ChainIDSeiTestnet,
			Name:          "sei-testnet",
			RPCURL:        "https://evm-rpc-testnet.sei-apis.com",
			Confirmations: 1,
			Native:        NativeAsset{Symbol: "SEI", Decimals: 18},
			Assets: map[string]AssetInfo{
				"USDC": {Address: "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", Name: "USDC", Version: "2", Decimals: DefaultDecimals},
			},
		},
	}
)

func init() {
	for network, cfg := range NetworkConfigs {
		x402.RegisterNetworkAlias(cfg.Name, network)
	}
}

// LookupNetwork returns the configuration for a network identifier or alias
func LookupNetwork(network x402.Network) (NetworkConfig, bool) {
	cfg, ok := NetworkConfigs[network.Normalize()]
	return cfg, ok
}

// LookupAsset returns the decimals of an asset symbol on a network
func LookupAsset(network x402.Network, symbol string) (int, bool) {
	cfg, ok := LookupNetwork(network)
	if !ok {
		return 0, false
	}
	if strings.EqualFold(symbol, cfg.Native.Symbol) {
		return cfg.Native.Decimals, true
	}
	asset, ok := cfg.Assets[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	return asset.Decimals, true
}
