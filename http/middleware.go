package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// MiddlewareOptions is the options for the PaymentMiddleware
type MiddlewareOptions struct {
	Paywall    PaywallProvider
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// Options is the type for the options for the PaymentMiddleware
type Options func(*MiddlewareOptions)

// WithPaywall serves HTML to browsers on a plain challenge
func WithPaywall(paywall PaywallProvider) Options {
	return func(o *MiddlewareOptions) {
		o.Paywall = paywall
	}
}

// WithRetryAfter sets the Retry-After advertised on retryable rejections
func WithRetryAfter(d time.Duration) Options {
	return func(o *MiddlewareOptions) {
		o.RetryAfter = d
	}
}

// WithLogger sets the middleware logger
func WithLogger(logger *slog.Logger) Options {
	return func(o *MiddlewareOptions) {
		o.Logger = logger
	}
}

func defaultOptions() *MiddlewareOptions {
	return &MiddlewareOptions{
		RetryAfter: DefaultRetryAfter,
		Logger:     slog.Default(),
	}
}

// NewOptions applies opts over the defaults
func NewOptions(opts ...Options) *MiddlewareOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PaymentMiddleware guards next behind the price policy of resourceID.
// next runs only after the request's proof has been verified and consumed.
// A 5xx from next is reported to the gateway as a downstream failure; the
// proof stays consumed.
func PaymentMiddleware(gw *x402.Gateway, resourceID string, opts ...Options) func(http.Handler) http.Handler {
	options := NewOptions(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := gw.Process(r.Context(), resourceID, ProofFromRequest(r))
			if !res.Granted() {
				WriteResult(w, r, res, options)
				return
			}

			if err := ApplyHeaders(w.Header(), res, options.RetryAfter); err != nil {
				options.Logger.Error("failed to encode payment response header", "resource", resourceID, "error", err)
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				gw.ReportDownstreamFailure(r.Context(), res,
					fmt.Errorf("handler responded with status %d", rec.status), time.Since(start))
			}
		})
	}
}

// statusRecorder captures the status written by the protected handler
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
