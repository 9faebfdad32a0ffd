package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/config"
	"github.com/x402-foundation/x402-summarizer/internal/gatewaytest"
	"github.com/x402-foundation/x402-summarizer/mechanisms/memory"
	"github.com/x402-foundation/x402-summarizer/replay"
	"github.com/x402-foundation/x402-summarizer/summarizer"
)

func testConfig(framework string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Framework:       framework,
			RetryAfter:      time.Second,
			ShutdownTimeout: time.Second,
			Metrics:         true,
		},
		MCP: config.MCPConfig{Transport: "sse"},
		Log: config.LogConfig{Level: "info", Format: "text"},
		Policies: []config.PolicyConfig{{
			Resource:  gatewaytest.Resource,
			Network:   string(gatewaytest.Network),
			Recipient: gatewaytest.Recipient,
			Price:     "0.01",
			Asset:     "USDC",
		}},
		Paywall: config.PaywallConfig{AppName: "test"},
	}
}

func newTestApp(t *testing.T, framework string) (*app, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger(gatewaytest.Network)
	a, err := newApp(context.Background(), testConfig(framework), gatewaytest.Logger(), components{
		ledgers:    []x402.LedgerClient{ledger},
		store:      replay.NewMemoryStore(),
		summarizer: summarizer.Demo{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	return a, ledger
}

func postSummarize(t *testing.T, h http.Handler, body, txRef string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if txRef != "" {
		gatewaytest.SetProof(req, txRef)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSummarizeRoute(t *testing.T) {
	for _, framework := range []string{"gin", "echo"} {
		t.Run(framework, func(t *testing.T) {
			a, ledger := newTestApp(t, framework)
			h := a.handler()
			ledger.AddPayment(memory.Payment{TxRef: "tx1", From: "payer", To: gatewaytest.Recipient, Asset: "USDC", Amount: gatewaytest.Price, Finalized: true})

			w := postSummarize(t, h, `{"text":"hello world"}`, "")
			require.Equal(t, http.StatusPaymentRequired, w.Code)
			var challenge x402.PaymentRequiredResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
			assert.Equal(t, x402.ErrCodePaymentRequired, challenge.Error)
			assert.Equal(t, "10000", challenge.Price)
			assert.Equal(t, gatewaytest.Recipient, challenge.WalletAddress)

			w = postSummarize(t, h, `{"text":""}`, "tx1")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			consumed, err := a.store.IsConsumed(context.Background(), gatewaytest.Resource, "tx1")
			require.NoError(t, err)
			assert.False(t, consumed, "invalid input must not spend the proof")

			w = postSummarize(t, h, `{"text":"hello world"}`, "tx1")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "Demo Summary")
			assert.NotEmpty(t, w.Header().Get(x402.HeaderPaymentResponse))

			w = postSummarize(t, h, `{"text":"hello world"}`, "tx1")
			assert.Equal(t, http.StatusConflict, w.Code)
		})
	}
}

func TestRetentionRefusesOlderTransactions(t *testing.T) {
	cfg := testConfig("gin")
	cfg.Replay.Retention = time.Minute
	ledger := memory.NewLedger(gatewaytest.Network)
	store := replay.NewMemoryStore(replay.WithRetention(cfg.Replay.Retention))
	a, err := newApp(context.Background(), cfg, gatewaytest.Logger(), components{
		ledgers:    []x402.LedgerClient{ledger},
		store:      store,
		summarizer: summarizer.Demo{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	h := a.handler()

	ledger.AddPayment(memory.Payment{TxRef: "tx-old", From: "payer", To: gatewaytest.Recipient, Asset: "USDC",
		Amount: gatewaytest.Price, Finalized: true, BlockTime: time.Now().Add(-2 * time.Minute)})
	w := postSummarize(t, h, `{"text":"hello world"}`, "tx-old")
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var body x402.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, x402.ErrCodeProofExpired, body.Error)
	assert.Zero(t, store.Len())

	ledger.AddPayment(memory.Payment{TxRef: "tx-new", From: "payer", To: gatewaytest.Recipient, Asset: "USDC",
		Amount: gatewaytest.Price, Finalized: true})
	w = postSummarize(t, h, `{"text":"hello world"}`, "tx-new")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestOversizedBodyIsRejectedBeforePayment(t *testing.T) {
	for _, framework := range []string{"gin", "echo"} {
		t.Run(framework, func(t *testing.T) {
			a, ledger := newTestApp(t, framework)
			ledger.AddPayment(memory.Payment{TxRef: "tx-big", From: "payer", To: gatewaytest.Recipient, Asset: "USDC", Amount: gatewaytest.Price, Finalized: true})

			body := `{"text":"` + strings.Repeat("a", 2<<20) + `"}`
			w := postSummarize(t, a.handler(), body, "tx-big")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			consumed, err := a.store.IsConsumed(context.Background(), gatewaytest.Resource, "tx-big")
			require.NoError(t, err)
			assert.False(t, consumed)
		})
	}
}

func TestInfoRoutes(t *testing.T) {
	for _, framework := range []string{"gin", "echo"} {
		t.Run(framework, func(t *testing.T) {
			a, _ := newTestApp(t, framework)
			h := a.handler()
			postSummarize(t, h, `{"text":"hi"}`, "")

			get := func(path string) *httptest.ResponseRecorder {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				return w
			}

			w := get("/health")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"status":"ok"`)
			assert.Contains(t, w.Body.String(), string(gatewaytest.Network))

			w = get("/pricing")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"displayPrice":"0.01 USDC"`)

			w = get("/metrics")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `x402_gateway_challenges_total{resource="summarize"} 1`)
		})
	}
}

func TestCORSExposesPaymentResponse(t *testing.T) {
	a, _ := newTestApp(t, "gin")
	a.cfg.Server.CORSOrigins = []string{"https://app.example"}
	h := a.handler()

	req := httptest.NewRequest(http.MethodOptions, "/summarize", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), x402.HeaderPaymentResponse)
}

func TestPayCommand(t *testing.T) {
	a, ledger := newTestApp(t, "gin")
	srv := httptest.NewServer(a.handler())
	defer srv.Close()
	ledger.AddPayment(memory.Payment{TxRef: "tx9", From: "payer", To: gatewaytest.Recipient, Asset: "USDC", Amount: gatewaytest.Price, Finalized: true})

	out, err := runCommand(t, "pay", "--url", srv.URL+"/summarize", "--tx", "tx9", "--text", "some text")
	require.NoError(t, err)
	assert.Contains(t, out, "Demo Summary")
	assert.Contains(t, out, "paid with tx9 on "+string(gatewaytest.Network))

	_, err = runCommand(t, "pay", "--url", srv.URL+"/summarize", "--tx", "tx9", "--text", "again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), x402.ErrCodeAlreadyConsumed)
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const policyFile = `policies:
  - resource: summarize
    network: testnet-A
    recipient: R1
    price: "0.01"
  - resource: premium
    network: testnet-A
    recipient: R1
    amount: 250000
`

func TestPolicyCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x402-summarizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyFile), 0o600))

	out, err := runCommand(t, "policy", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 valid policies")

	out, err = runCommand(t, "--config", path, "policy", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "RESOURCE")
	assert.Contains(t, out, "0.01 USDC")
	assert.Contains(t, out, "premium")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("policies:\n  - resource: x\n"), 0o600))
	_, err = runCommand(t, "policy", "validate", bad)
	assert.ErrorIs(t, err, config.ErrInvalidPolicies)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "x402-summarizer dev (none)\n", out)
}

func TestEVMOptions(t *testing.T) {
	opts, err := evmOptions(config.LedgerConfig{Network: "eip155:31337", Kind: config.KindEVM})
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = evmOptions(config.LedgerConfig{Network: "base-sepolia", Kind: config.KindEVM})
	require.NoError(t, err)
	assert.Empty(t, opts)

	opts, err = evmOptions(config.LedgerConfig{Network: "base-sepolia", Kind: config.KindEVM, RateLimit: 5, Confirmations: 3})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	opts, err = evmOptions(config.LedgerConfig{Network: "eip155:31337", Assets: map[string]string{"usdx": "0x2222222222222222222222222222222222222222"}})
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	_, err = evmOptions(config.LedgerConfig{Network: "solana:devnet", Kind: config.KindEVM})
	assert.Error(t, err)

	_, err = evmOptions(config.LedgerConfig{Network: "eip155:abc", Kind: config.KindEVM})
	assert.Error(t, err)
}

func TestMCPHandler(t *testing.T) {
	for _, transport := range []string{"sse", "streamable"} {
		t.Run(transport, func(t *testing.T) {
			a, _ := newTestApp(t, "gin")
			a.cfg.MCP.Transport = transport
			assert.NotNil(t, a.mcpHandler())
		})
	}
}
