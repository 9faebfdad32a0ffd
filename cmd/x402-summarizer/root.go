package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/x402-foundation/x402-summarizer/config"
)

// Set by the linker
var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "x402-summarizer",
		Short: "Pay-per-request text summarizer",
		Long: `x402-summarizer serves POST /summarize behind an HTTP 402 payment gateway.

Requests without a payment proof receive a 402 challenge naming the price,
recipient and network. Clients pay on-chain and retry with the transaction
hash in X-Payment-TxHash and the network in X-Payment-Network. Each
transaction buys exactly one call.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ./x402-summarizer.yaml or ~/.x402/x402-summarizer.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newPolicyCmd(opts),
		newPayCmd(),
		newVersionCmd(),
	)
	return cmd
}

// load reads configuration and installs the configured logger as default
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "x402-summarizer %s (%s)\n", version, commit)
		},
	}
}
