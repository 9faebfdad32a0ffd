package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// PaymentWrapperConfig configures a paid tool
type PaymentWrapperConfig struct {
	// ResourceID is the priced resource the tool is billed as.
	ResourceID string
	Logger     *slog.Logger
}

// PaymentWrapper gates MCP tool handlers behind the gateway
type PaymentWrapper struct {
	gateway *x402.Gateway
	config  PaymentWrapperConfig
}

// NewPaymentWrapper creates a wrapper billing calls as config.ResourceID
func NewPaymentWrapper(gw *x402.Gateway, config PaymentWrapperConfig) *PaymentWrapper {
	if config.ResourceID == "" {
		panic("PaymentWrapperConfig.ResourceID is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &PaymentWrapper{gateway: gw, config: config}
}

// Wrap returns a handler that runs handler only for a consumed proof. An error
// result from handler is reported as a downstream failure; the proof stays
// consumed either way.
func (w *PaymentWrapper) Wrap(handler mcpsdk.ToolHandler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var meta map[string]any
		if req != nil && req.Params != nil {
			meta = req.Params.Meta
		}

		res := w.gateway.Process(ctx, w.config.ResourceID, ExtractProofFromMeta(meta))
		if !res.Granted() {
			w.config.Logger.Debug("tool call not paid",
				"resource", w.config.ResourceID, "state", res.State, "status", res.StatusCode())
			return paymentRequiredResult(res)
		}

		start := time.Now()
		result, err := handler(ctx, req)
		switch {
		case err != nil:
			w.gateway.ReportDownstreamFailure(ctx, res, err, time.Since(start))
			return nil, err
		case result == nil:
			err = errors.New("tool returned no result")
			w.gateway.ReportDownstreamFailure(ctx, res, err, time.Since(start))
			return nil, err
		case result.IsError:
			w.gateway.ReportDownstreamFailure(ctx, res, toolError(result), time.Since(start))
		}

		if result.Meta == nil {
			result.Meta = mcpsdk.Meta{}
		}
		result.Meta[MCP_PAYMENT_RESPONSE_META_KEY] = *res.Record
		return result, nil
	}
}

// paymentRequiredResult returns the challenge or rejection as an error result
func paymentRequiredResult(res *x402.ProcessResult) (*mcpsdk.CallToolResult, error) {
	structured, text, err := toStructured(res.Response())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment required: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		StructuredContent: structured,
		IsError:           true,
	}, nil
}

func toolError(result *mcpsdk.CallToolResult) error {
	if err := result.GetError(); err != nil {
		return err
	}
	for _, c := range result.Content {
		if t, ok := c.(*mcpsdk.TextContent); ok && t.Text != "" {
			return errors.New(t.Text)
		}
	}
	return errors.New("tool returned an error result")
}
