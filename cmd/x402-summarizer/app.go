package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/config"
	"github.com/x402-foundation/x402-summarizer/events"
	xhttp "github.com/x402-foundation/x402-summarizer/http"
	"github.com/x402-foundation/x402-summarizer/mechanisms/evm"
	"github.com/x402-foundation/x402-summarizer/mechanisms/svm"
	"github.com/x402-foundation/x402-summarizer/replay"
	"github.com/x402-foundation/x402-summarizer/summarizer"
	"github.com/x402-foundation/x402-summarizer/telemetry"
)

// app holds everything a listener needs
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	gateway    *x402.Gateway
	store      replay.Store
	summarizer summarizer.Summarizer
	registry   *prometheus.Registry
	closers    []func() error
}

// components lets tests replace the parts that talk to the network
type components struct {
	ledgers    []x402.LedgerClient
	store      replay.Store
	summarizer summarizer.Summarizer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, c components) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdownTracing(context.Background()) })

	policies, err := cfg.PricePolicies()
	if err != nil {
		return nil, err
	}
	set, err := x402.NewPolicySet(logger, policies...)
	if err != nil {
		return nil, err
	}

	if c.ledgers == nil {
		ledgers, closers, err := openLedgers(ctx, cfg)
		a.closers = append(a.closers, closers...)
		if err != nil {
			return nil, err
		}
		c.ledgers = ledgers
	}
	verifier := x402.NewVerifier(x402.WithVerifierLogger(logger))
	for _, l := range c.ledgers {
		verifier.Register(l)
	}
	for _, p := range set.Policies() {
		if err := verifier.CheckPolicy(p); err != nil {
			return nil, err
		}
	}

	if c.store == nil {
		c.store, err = replay.Open(ctx, cfg.Replay, replay.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open replay store: %w", err)
		}
	}
	a.store = c.store
	a.closers = append(a.closers, c.store.Close)

	opts := []x402.GatewayOption{x402.WithLogger(logger)}
	if cfg.Gateway.VerifyTimeout > 0 {
		opts = append(opts, x402.WithVerifyTimeout(cfg.Gateway.VerifyTimeout))
	}
	if cfg.Replay.Retention > 0 {
		opts = append(opts, x402.WithMaxProofAge(cfg.Replay.Retention))
	}
	a.gateway = x402.NewGateway(set, verifier, c.store, opts...)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry.NewMetrics(a.registry).Instrument(a.gateway)

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events.Config, logger)
		if err != nil {
			return nil, err
		}
		pub.Attach(a.gateway)
		a.closers = append(a.closers, pub.Close)
	}

	a.summarizer = c.summarizer
	if a.summarizer == nil {
		a.summarizer = summarizer.New(cfg.Summarizer, logger)
	}

	for _, p := range set.Policies() {
		logger.Info("price policy loaded",
			"resource", p.ResourceID, "network", p.Network, "recipient", p.Recipient,
			"price", p.DisplayPrice(), "amount", p.Amount.String())
	}
	return a, nil
}

// middlewareOptions configures the HTTP payment middleware
func (a *app) middlewareOptions() []xhttp.Options {
	return []xhttp.Options{
		xhttp.WithLogger(a.logger),
		xhttp.WithRetryAfter(a.cfg.Server.RetryAfter),
		xhttp.WithPaywall(xhttp.NewPaywall(xhttp.PaywallConfig{
			AppName: a.cfg.Paywall.AppName,
			AppLogo: a.cfg.Paywall.AppLogo,
		})),
	}
}

// runJanitor prunes expired replay records until ctx is done. It only runs
// when the store has a retention.
func (a *app) runJanitor(ctx context.Context) {
	retention, interval := a.cfg.Replay.Retention, a.cfg.Gateway.PruneInterval
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.store.Prune(ctx, now.Add(-retention))
			if err != nil {
				a.logger.Error("replay prune failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("pruned consumed proofs", "removed", n, "retention", retention)
			}
		}
	}
}

func (a *app) close(context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

func openLedgers(ctx context.Context, cfg *config.Config) ([]x402.LedgerClient, []func() error, error) {
	configs, err := cfg.LedgerConfigs()
	if err != nil {
		return nil, nil, err
	}

	var (
		ledgers []x402.LedgerClient
		closers []func() error
	)
	for _, lc := range configs {
		network := x402.Network(lc.Network)
		switch lc.Kind {
		case config.KindEVM:
			opts, err := evmOptions(lc)
			if err != nil {
				return nil, closers, err
			}
			l, err := evm.Dial(ctx, network, lc.RPCURL, opts...)
			if err != nil {
				return nil, closers, err
			}
			closers = append(closers, func() error { l.Close(); return nil })
			ledgers = append(ledgers, l)
		case config.KindSVM:
			l, err := svm.Dial(network, lc.RPCURL)
			if err != nil {
				return nil, closers, err
			}
			ledgers = append(ledgers, l)
		default:
			return nil, closers, fmt.Errorf("ledger %s: unknown kind %q", lc.Network, lc.Kind)
		}
	}
	return ledgers, closers, nil
}

// evmOptions builds the ledger options for lc. Networks without a built-in
// configuration take their chain ID from the CAIP-2 reference.
func evmOptions(lc config.LedgerConfig) ([]evm.LedgerOption, error) {
	var opts []evm.LedgerOption
	if lc.RateLimit > 0 {
		burst := lc.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, evm.WithRateLimit(lc.RateLimit, burst))
	}

	network := x402.Network(lc.Network)
	nc, known := evm.LookupNetwork(network)
	if !known {
		namespace, ref, err := network.Parse()
		if err != nil || namespace != "eip155" {
			return nil, fmt.Errorf("ledger %s: not an eip155 network", lc.Network)
		}
		chainID, ok := new(big.Int).SetString(ref, 10)
		if !ok {
			return nil, fmt.Errorf("ledger %s: invalid chain id %q", lc.Network, ref)
		}
		nc = evm.NetworkConfig{
			ChainID:       chainID,
			Name:          lc.Network,
			RPCURL:        lc.RPCURL,
			Confirmations: 1,
			Native:        evm.NativeAsset{Symbol: "ETH", Decimals: 18},
		}
	}
	if lc.Confirmations > 0 {
		nc.Confirmations = lc.Confirmations
	}
	if len(lc.Assets) > 0 {
		assets := make(map[string]evm.AssetInfo, len(nc.Assets)+len(lc.Assets))
		for symbol, info := range nc.Assets {
			assets[symbol] = info
		}
		for symbol, address := range lc.Assets {
			assets[strings.ToUpper(symbol)] = evm.AssetInfo{Address: address, Decimals: evm.DefaultDecimals}
		}
		nc.Assets = assets
	}
	if !known || lc.Confirmations > 0 || len(lc.Assets) > 0 {
		opts = append(opts, evm.WithNetworkConfig(nc))
	}
	return opts, nil
}
