package config

import (
	"fmt"
	"strings"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/mechanisms/evm"
	"github.com/x402-foundation/x402-summarizer/mechanisms/svm"
)

// Ledger kinds
const (
	KindEVM = "evm"
	KindSVM = "svm"
)

// LedgerConfig points a network at an RPC endpoint
type LedgerConfig struct {
	Network string `mapstructure:"network"`
	// Kind is "evm" or "svm". It is inferred for known networks.
	Kind      string  `mapstructure:"kind"`
	RPCURL    string  `mapstructure:"rpc_url"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`

	// Confirmations overrides the finality depth of an EVM network.
	Confirmations uint64 `mapstructure:"confirmations"`
	// Assets adds token contracts by symbol, for EVM networks without a
	// built-in configuration (local dev chains).
	Assets map[string]string `mapstructure:"assets"`
}

// LedgerConfigs returns one ledger per network the policies use. Networks
// without an explicit ledgers entry get the built-in RPC endpoint.
func (c *Config) LedgerConfigs() ([]LedgerConfig, error) {
	byNetwork := make(map[x402.Network]LedgerConfig)
	var order []x402.Network

	add := func(l LedgerConfig) error {
		network := x402.Network(l.Network).Normalize()
		if l.Kind == "" {
			l.Kind = inferKind(network)
		}
		if l.RPCURL == "" {
			l.RPCURL = defaultRPCURL(network)
		}
		switch {
		case l.Kind != KindEVM && l.Kind != KindSVM:
			return fmt.Errorf("ledger %s: unknown kind %q (set ledgers[].kind to evm or svm)", l.Network, l.Kind)
		case l.RPCURL == "":
			return fmt.Errorf("ledger %s: rpc_url is required", l.Network)
		}
		l.Network = string(network)
		if _, seen := byNetwork[network]; !seen {
			order = append(order, network)
		}
		byNetwork[network] = l
		return nil
	}

	for _, l := range c.Ledgers {
		if strings.TrimSpace(l.Network) == "" {
			return nil, fmt.Errorf("ledgers: network is required")
		}
		if err := add(l); err != nil {
			return nil, err
		}
	}
	for _, p := range c.Policies {
		network := x402.Network(strings.TrimSpace(p.Network)).Normalize()
		if _, ok := byNetwork[network]; ok {
			continue
		}
		if err := add(LedgerConfig{Network: string(network)}); err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Resource, err)
		}
	}

	out := make([]LedgerConfig, 0, len(order))
	for _, n := range order {
		out = append(out, byNetwork[n])
	}
	return out, nil
}

func inferKind(network x402.Network) string {
	if _, ok := evm.LookupNetwork(network); ok {
		return KindEVM
	}
	if _, ok := svm.NetworkConfigs[network]; ok {
		return KindSVM
	}
	if namespace, _, err := network.Parse(); err == nil {
		switch namespace {
		case "eip155":
			return KindEVM
		case "solana":
			return KindSVM
		}
	}
	return ""
}

func defaultRPCURL(network x402.Network) string {
	if cfg, ok := evm.LookupNetwork(network); ok {
		return cfg.RPCURL
	}
	if cfg, ok := svm.NetworkConfigs[network]; ok {
		return cfg.RPCURL
	}
	return ""
}
