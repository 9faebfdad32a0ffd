package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	x402 "github.com/x402-foundation/x402-summarizer"
	xhttp "github.com/x402-foundation/x402-summarizer/http"
	"github.com/x402-foundation/x402-summarizer/summarizer"
)

type payOptions struct {
	url        string
	txRef      string
	network    string
	text       string
	maxRetries int
	retryDelay time.Duration
}

func newPayCmd() *cobra.Command {
	opts := &payOptions{}

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Call a paid summarize endpoint with an existing payment",
		Long: `pay posts text to a summarize endpoint. When the server answers with a
402 challenge, the request is retried with the given transaction as proof.
Text is read from --text or, when empty, from standard input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPay(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:3001/summarize", "summarize endpoint")
	f.StringVar(&opts.txRef, "tx", "", "transaction hash paying the challenge")
	f.StringVar(&opts.network, "network", "", "network of the transaction (default: the challenged network)")
	f.StringVar(&opts.text, "text", "", "text to summarize")
	f.IntVar(&opts.maxRetries, "max-retries", 3, "resubmissions while the transaction is not final")
	f.DurationVar(&opts.retryDelay, "retry-delay", 0, "delay between resubmissions (default: server Retry-After)")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

func runPay(cmd *cobra.Command, opts *payOptions) error {
	text := opts.text
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		text = string(data)
	}
	if text == "" {
		return errors.New("no text to summarize")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, opts.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	clientOpts := []xhttp.ClientOption{xhttp.WithMaxRetries(opts.maxRetries)}
	if opts.retryDelay > 0 {
		clientOpts = append(clientOpts, xhttp.WithRetryDelay(opts.retryDelay))
	}
	client := xhttp.WrapClient(&http.Client{Timeout: 2 * time.Minute},
		x402.StaticProof(opts.txRef, x402.Network(opts.network)), clientOpts...)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out := cmd.OutOrStdout()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var challenge x402.PaymentRequiredResponse
		if json.Unmarshal(respBody, &challenge) == nil && challenge.Error != "" {
			return fmt.Errorf("payment not accepted (%d %s): %s", resp.StatusCode, challenge.Error, challenge.Message)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var result summarizer.Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}
	fmt.Fprintln(out, result.Summary)

	if pr, err := xhttp.GetPaymentResponse(resp); err == nil {
		fmt.Fprintf(out, "\npaid with %s on %s (payer %s)\n", pr.Transaction, pr.Network, pr.Payer)
	}
	return nil
}
