package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/x402-foundation/x402-summarizer/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the paid summarize tool over MCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.MCP.Transport = transport
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, components{})
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			go a.runJanitor(ctx)

			srv := &http.Server{
				Addr:              cfg.MCP.Addr(),
				Handler:           a.mcpHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return listen(ctx, srv, a)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "MCP transport override (sse or streamable)")
	return cmd
}

// mcpHandler serves the MCP tools on the configured transport
func (a *app) mcpHandler() http.Handler {
	server := mcp.NewServer(a.gateway, a.summarizer, mcp.ServerConfig{
		Name:       "x402-summarizer",
		Version:    version,
		ResourceID: summarizeResource,
		Logger:     a.logger,
	})
	if a.cfg.MCP.Transport == "streamable" {
		return mcp.StreamableHandler(server)
	}
	return mcp.SSEHandler(server)
}
