package echo_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-summarizer"
	xecho "github.com/x402-foundation/x402-summarizer/http/echo"
	xhttp "github.com/x402-foundation/x402-summarizer/http"
	"github.com/x402-foundation/x402-summarizer/internal/gatewaytest"
)

func newServer(f *gatewaytest.Fixture, handler echo.HandlerFunc, opts ...xhttp.Options) *echo.Echo {
	e := echo.New()
	e.POST("/summarize", handler, xecho.PaymentMiddleware(f.Gateway, gatewaytest.Resource, opts...))
	return e
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, x402.PaymentRequiredResponse) {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	var body x402.PaymentRequiredResponse
	if w.Code != http.StatusOK {
		_ = json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func paidRequest(ref string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/summarize", nil)
	if ref != "" {
		gatewaytest.SetProof(req, ref)
	}
	return req
}

func TestEchoPaymentMiddleware(t *testing.T) {
	f := gatewaytest.New(t)
	calls := 0
	e := newServer(f, func(c echo.Context) error {
		calls++
		record, ok := xecho.PaymentRecord(c)
		require.True(t, ok)
		return c.JSON(http.StatusOK, map[string]string{"summary": "- point", "tx": record.TxRef})
	})

	w, body := serve(e, paidRequest(""))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "10000", body.Price)

	f.Pay("0xaa", gatewaytest.Price-1, true)
	w, body = serve(e, paidRequest("0xaa"))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, x402.ErrCodeInsufficientPayment, body.Error)

	f.Pay("0xbb", gatewaytest.Price, true)
	w, _ = serve(e, paidRequest("0xBB"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"summary":"- point","tx":"0xbb"}`, w.Body.String())

	w, body = serve(e, paidRequest("0xbb"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, x402.ErrCodeAlreadyConsumed, body.Error)
	assert.Equal(t, 1, calls)
}

func TestEchoBrowserPaywall(t *testing.T) {
	f := gatewaytest.New(t)
	e := newServer(f, func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		xhttp.WithPaywall(xhttp.NewPaywall(xhttp.PaywallConfig{})))

	req := paidRequest("")
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Payment Required")
}

func TestEchoHandlerError(t *testing.T) {
	f := gatewaytest.New(t)
	var reported error
	f.Gateway.OnDownstreamFailure(func(c x402.DownstreamFailureContext) error {
		reported = c.Error
		return nil
	})
	boom := errors.New("model unavailable")
	e := newServer(f, func(c echo.Context) error { return boom })
	f.Pay("0xcc", gatewaytest.Price, true)

	w, _ := serve(e, paidRequest("0xcc"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.ErrorIs(t, reported, boom)
}
