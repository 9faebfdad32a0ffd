package svm

import (
	x402 "github.com/x402-foundation/x402-summarizer"
)

const (
	// CAIP-2 network identifiers (genesis hash prefixes)
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"

	// Default RPC endpoints
	DefaultMainnetRPC = "https://api.mainnet-beta.solana.com"
	DefaultDevnetRPC  = "https://api.devnet.solana.com"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// finalizedConfirmations is reported for rooted transactions, whose
	// confirmation count the RPC leaves null.
	finalizedConfirmations = 32
)

// AssetInfo describes an SPL token mint
type AssetInfo struct {
	Mint     string
	Decimals int
}

// NetworkConfig describes a Solana cluster
type NetworkConfig struct {
	Name   string
	RPCURL string
	Assets map[string]AssetInfo
}

// NetworkConfigs keyed by CAIP-2 identifier
var NetworkConfigs = map[x402.Network]NetworkConfig{
	SolanaMainnetCAIP2: {
		Name:   "solana",
		RPCURL: DefaultMainnetRPC,
		Assets: map[string]AssetInfo{
			"USDC": {Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: DefaultDecimals},
		},
	},
	SolanaDevnetCAIP2: {
		Name:   "solana-devnet",
		RPCURL: DefaultDevnetRPC,
		Assets: map[string]AssetInfo{
			"USDC": {Mint: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Decimals: DefaultDecimals},
		},
	},
}

func init() {
	for network, cfg := range NetworkConfigs {
		x402.RegisterNetworkAlias(cfg.Name, network)
	}
}

// LookupAsset returns the decimals of an SPL token symbol on a network
func LookupAsset(network x402.Network, symbol string) (int, bool) {
	cfg, ok := NetworkConfigs[network.Normalize()]
	if !ok {
		return 0, false
	}
	for s, a := range cfg.Assets {
		if s == symbol || a.Mint == symbol {
			return a.Decimals, true
		}
	}
	return 0, false
}
