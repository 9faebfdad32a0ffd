package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/summarizer"
)

// Tool names
const (
	ToolSummarize = "summarize"
	ToolPricing   = "pricing"
)

var summarizeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{
			"type":        "string",
			"description": "Text to summarize",
		},
	},
	"required": []string{"text"},
}

var emptySchema = map[string]any{"type": "object"}

// ServerConfig configures NewServer
type ServerConfig struct {
	Name    string
	Version string
	// ResourceID is the policy the summarize tool is billed under.
	ResourceID string
	Logger     *slog.Logger
}

// PricingEntry is one resource in the pricing tool's output
type PricingEntry struct {
	ResourceID   string       `json:"resourceId"`
	Price        string       `json:"price"`
	DisplayPrice string       `json:"displayPrice"`
	Network      x402.Network `json:"network"`
	Recipient    string       `json:"recipient"`
	Asset        string       `json:"asset"`
	Description  string       `json:"description,omitempty"`
}

// NewServer builds an MCP server with a paid summarize tool and a free
// pricing tool.
func NewServer(gw *x402.Gateway, s summarizer.Summarizer, config ServerConfig) *mcpsdk.Server {
	if config.Name == "" {
		config.Name = "x402-summarizer"
	}
	if config.ResourceID == "" {
		config.ResourceID = ToolSummarize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: config.Name, Version: config.Version}, nil)

	wrapper := NewPaymentWrapper(gw, PaymentWrapperConfig{ResourceID: config.ResourceID, Logger: config.Logger})
	server.AddTool(&mcpsdk.Tool{
		Name:        ToolSummarize,
		Description: "Summarize text. Each call requires a payment proof in _meta[\"x402/payment\"].",
		InputSchema: summarizeSchema,
	}, requireText(wrapper.Wrap(summarizeHandler(s, config.Logger))))

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolPricing,
		Description: "List priced resources and how to pay for them.",
		InputSchema: emptySchema,
	}, pricingHandler(gw))

	return server
}

// SSEHandler serves server over the SSE transport
func SSEHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return server }, nil)
}

// StreamableHandler serves server over the streamable HTTP transport
func StreamableHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return server }, nil)
}

func textArgument(req *mcpsdk.CallToolRequest) (string, bool) {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return "", false
	}
	var in summarizer.Request
	if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
		return "", false
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", false
	}
	return in.Text, true
}

// requireText rejects calls without text before any payment is checked, so a
// bad request never consumes a proof.
func requireText(next mcpsdk.ToolHandler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		if _, ok := textArgument(req); !ok {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Text is required"}},
				IsError: true,
			}, nil
		}
		return next(ctx, req)
	}
}

func summarizeHandler(s summarizer.Summarizer, logger *slog.Logger) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		text, _ := textArgument(req)
		summary, err := s.Summarize(ctx, text)
		if err != nil {
			logger.Error("summarize tool failed", "error", err)
			result := &mcpsdk.CallToolResult{}
			result.SetError(err)
			return result, nil
		}
		return &mcpsdk.CallToolResult{
			Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: summary}},
			StructuredContent: map[string]any{"summary": summary},
		}, nil
	}
}

func pricingHandler(gw *x402.Gateway) mcpsdk.ToolHandler {
	return func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		entries := Pricing(gw.Policies())
		structured, text, err := toStructured(map[string]any{"resources": entries})
		if err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{
			Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			StructuredContent: structured,
		}, nil
	}
}

// Pricing lists every policy in the set
func Pricing(policies *x402.PolicySet) []PricingEntry {
	out := make([]PricingEntry, 0, policies.Len())
	for _, p := range policies.Policies() {
		out = append(out, PricingEntry{
			ResourceID:   p.ResourceID,
			Price:        p.Amount.String(),
			DisplayPrice: p.DisplayPrice(),
			Network:      p.Network,
			Recipient:    p.Recipient,
			Asset:        p.Asset,
			Description:  p.Description,
		})
	}
	return out
}
