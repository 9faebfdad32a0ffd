// Package echo provides the payment middleware for echo servers.
package echo

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	x402 "github.com/x402-foundation/x402-summarizer"
	xhttp "github.com/x402-foundation/x402-summarizer/http"
)

// PaymentContextKey holds the consumed proof record in the echo context
const PaymentContextKey = "x402.payment"

// PaymentMiddleware guards a handler behind the price policy of resourceID
func PaymentMiddleware(gw *x402.Gateway, resourceID string, opts ...xhttp.Options) echo.MiddlewareFunc {
	options := xhttp.NewOptions(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := gw.Process(req.Context(), resourceID, xhttp.ProofFromRequest(req))
			if !res.Granted() {
				_ = xhttp.ApplyHeaders(c.Response().Header(), res, options.RetryAfter)
				status := res.StatusCode()
				if status == http.StatusPaymentRequired && res.Challenge != nil && options.Paywall != nil && xhttp.IsWebBrowser(req) {
					return c.HTML(status, options.Paywall.GenerateHTML(res.Response()))
				}
				return c.JSON(status, res.Response())
			}

			if err := xhttp.ApplyHeaders(c.Response().Header(), res, options.RetryAfter); err != nil {
				options.Logger.Error("failed to encode payment response header", "resource", resourceID, "error", err)
			}
			c.Set(PaymentContextKey, *res.Record)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			if status >= http.StatusInternalServerError {
				cause := err
				if cause == nil {
					cause = fmt.Errorf("handler responded with status %d", status)
				}
				gw.ReportDownstreamFailure(req.Context(), res, cause, time.Since(start))
			}
			return err
		}
	}
}

// PaymentRecord returns the consumed proof record stored by PaymentMiddleware
func PaymentRecord(c echo.Context) (x402.ConsumedProofRecord, bool) {
	record, ok := c.Get(PaymentContextKey).(x402.ConsumedProofRecord)
	return record, ok
}
