package http_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-summarizer"
	xhttp "github.com/x402-foundation/x402-summarizer/http"
)

func echoHandler(s *server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
}

func TestClientPaysChallenge(t *testing.T) {
	var s *server
	s = newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { echoHandler(s).ServeHTTP(w, r) }))
	s.pay("0xbeef", 10000, true)

	var paid atomic.Int64
	client := xhttp.WrapClient(nil, x402.PayerFunc(func(ctx context.Context, c x402.PaymentRequiredResponse) (x402.PaymentProof, error) {
		paid.Add(1)
		assert.Equal(t, "10000", c.Price)
		assert.Equal(t, "R1", c.WalletAddress)
		return x402.PaymentProof{TxRef: "0xbeef", Network: c.Network}, nil
	}))

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/summarize", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int64(1), paid.Load())

	pr, err := xhttp.GetPaymentResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", pr.Transaction)
}

func TestClientRetriesUntilFinal(t *testing.T) {
	s := newServer(t, nil)
	s.pay("0xslow", 10000, false)

	var rejections atomic.Int64
	s.gateway.OnRejected(func(c x402.RejectionContext) error {
		if c.Error.Code == x402.ErrCodeNotYetFinalized && rejections.Add(1) == 2 {
			s.ledger.Finalize("0xslow")
		}
		return nil
	})

	client := xhttp.WrapClient(nil, x402.StaticProof("0xslow", testNetwork),
		xhttp.WithMaxRetries(5), xhttp.WithRetryDelay(10*time.Millisecond))

	resp, err := client.Post(s.srv.URL+"/summarize", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), rejections.Load())
	assert.Equal(t, int64(1), s.calls.Load())
}

func TestClientRetryLimit(t *testing.T) {
	s := newServer(t, nil)
	s.pay("0xstuck", 10000, false)

	client := xhttp.WrapClient(nil, x402.StaticProof("0xstuck", ""),
		xhttp.WithMaxRetries(1), xhttp.WithRetryDelay(time.Millisecond))

	_, err := client.Get(s.srv.URL + "/summarize")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xhttp.ErrPaymentRetryLimit))
}

func TestClientReturnsPermanentRejection(t *testing.T) {
	s := newServer(t, nil)
	s.pay("0xsmall", 1, true)

	client := xhttp.WrapClient(nil, x402.StaticProof("0xsmall", testNetwork))
	resp, err := client.Get(s.srv.URL + "/summarize")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestClientPayerError(t *testing.T) {
	s := newServer(t, nil)
	client := xhttp.WrapClient(nil, x402.PayerFunc(func(context.Context, x402.PaymentRequiredResponse) (x402.PaymentProof, error) {
		return x402.PaymentProof{}, errors.New("wallet locked")
	}))

	_, err := client.Get(s.srv.URL + "/summarize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet locked")
}
