// Package mcp exposes the paid summarize operation as an MCP tool.
//
// # Server Usage
//
// Wrap a tool handler with the gateway:
//
//	wrapper := mcp.NewPaymentWrapper(gateway, mcp.PaymentWrapperConfig{ResourceID: "summarize"})
//	server.AddTool(tool, wrapper.Wrap(handler))
//
// The proof travels in the request's _meta under "x402/payment" as
// {"txRef": "...", "network": "..."}. A missing or rejected proof returns an
// error result whose structured content is the 402 challenge body. A consumed
// proof is echoed back in the result's _meta under "x402/payment-response".
//
// # Client Usage
//
// Wrap a connected session with a payer:
//
//	client := mcp.NewClient(session, x402.StaticProof(txHash, "sei-testnet"))
//	result, err := client.CallTool(ctx, "summarize", map[string]any{"text": text})
package mcp
