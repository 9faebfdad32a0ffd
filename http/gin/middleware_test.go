package gin_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-summarizer"
	xgin "github.com/x402-foundation/x402-summarizer/http/gin"
	"github.com/x402-foundation/x402-summarizer/internal/gatewaytest"
)

func newRouter(f *gatewaytest.Fixture, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/summarize", xgin.PaymentMiddleware(f.Gateway, gatewaytest.Resource), handler)
	return r
}

func serve(r http.Handler, ref string) (*httptest.ResponseRecorder, x402.PaymentRequiredResponse) {
	req := httptest.NewRequest(http.MethodPost, "/summarize", nil)
	if ref != "" {
		gatewaytest.SetProof(req, ref)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body x402.PaymentRequiredResponse
	if w.Code != http.StatusOK {
		_ = json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func TestGinPaymentMiddleware(t *testing.T) {
	f := gatewaytest.New(t)
	calls := 0
	r := newRouter(f, func(c *gin.Context) {
		calls++
		record, ok := xgin.PaymentRecord(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"summary": "- point", "payer": record.Payer})
	})

	w, body := serve(r, "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "10000", body.Price)
	assert.Equal(t, gatewaytest.Recipient, body.WalletAddress)

	f.Pay("0xaa", gatewaytest.Price, true)
	w, _ = serve(r, "0xaa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"summary":"- point","payer":"payer"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(x402.HeaderPaymentResponse))

	w, body = serve(r, "0xaa")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, x402.ErrCodeAlreadyConsumed, body.Error)
	assert.Equal(t, 1, calls)
}

func TestGinRetryableRejection(t *testing.T) {
	f := gatewaytest.New(t)
	r := newRouter(f, func(c *gin.Context) { c.Status(http.StatusOK) })
	f.Pay("0xbb", gatewaytest.Price, false)

	w, body := serve(r, "0xbb")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, x402.ErrCodeNotYetFinalized, body.Error)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestGinHandlerFailure(t *testing.T) {
	f := gatewaytest.New(t)
	var reported error
	f.Gateway.OnDownstreamFailure(func(c x402.DownstreamFailureContext) error {
		reported = c.Error
		return nil
	})
	boom := errors.New("model unavailable")
	r := newRouter(f, func(c *gin.Context) {
		_ = c.Error(boom)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize text"})
	})
	f.Pay("0xcc", gatewaytest.Price, true)

	w, _ := serve(r, "0xcc")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.ErrorIs(t, reported, boom)

	consumed, err := f.Guard.IsConsumed(t.Context(), gatewaytest.Resource, "0xcc")
	require.NoError(t, err)
	assert.True(t, consumed)
}
