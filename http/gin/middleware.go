// Package gin provides the payment middleware for gin routers.
package gin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-foundation/x402-summarizer"
	xhttp "github.com/x402-foundation/x402-summarizer/http"
)

// PaymentContextKey holds the consumed proof record in the gin context
const PaymentContextKey = "x402.payment"

// PaymentMiddleware guards the following handlers behind the price policy of
// resourceID.
func PaymentMiddleware(gw *x402.Gateway, resourceID string, opts ...xhttp.Options) gin.HandlerFunc {
	options := xhttp.NewOptions(opts...)

	return func(c *gin.Context) {
		res := gw.Process(c.Request.Context(), resourceID, xhttp.ProofFromRequest(c.Request))
		if !res.Granted() {
			_ = xhttp.ApplyHeaders(c.Writer.Header(), res, options.RetryAfter)
			status := res.StatusCode()
			if status == http.StatusPaymentRequired && res.Challenge != nil && options.Paywall != nil && xhttp.IsWebBrowser(c.Request) {
				c.Abort()
				c.Data(status, "text/html; charset=utf-8", []byte(options.Paywall.GenerateHTML(res.Response())))
				return
			}
			c.AbortWithStatusJSON(status, res.Response())
			return
		}

		if err := xhttp.ApplyHeaders(c.Writer.Header(), res, options.RetryAfter); err != nil {
			options.Logger.Error("failed to encode payment response header", "resource", resourceID, "error", err)
		}
		c.Set(PaymentContextKey, *res.Record)

		start := time.Now()
		c.Next()

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			err := fmt.Errorf("handler responded with status %d", status)
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			gw.ReportDownstreamFailure(c.Request.Context(), res, err, time.Since(start))
		}
	}
}

// PaymentRecord returns the consumed proof record stored by PaymentMiddleware
func PaymentRecord(c *gin.Context) (x402.ConsumedProofRecord, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return x402.ConsumedProofRecord{}, false
	}
	record, ok := v.(x402.ConsumedProofRecord)
	return record, ok
}
