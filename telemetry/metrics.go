// Package telemetry exports gateway activity as Prometheus metrics and sets up
// OpenTelemetry tracing for ledger verification.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/x402-foundation/x402-summarizer"
)

// Namespace prefixes every metric name
const Namespace = "x402"

// Metrics tracks the payment state machine
type Metrics struct {
	challenges         *prometheus.CounterVec
	verifications      *prometheus.CounterVec
	verifyDuration     *prometheus.HistogramVec
	rejections         *prometheus.CounterVec
	consumed           *prometheus.CounterVec
	downstreamFailures *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
}

// NewMetrics creates the gateway metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "challenges_total",
			Help:      "Payment challenges issued",
		}, []string{"resource"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "verifications_total",
			Help:      "Ledger verifications that confirmed a payment",
		}, []string{"resource", "network"}),
		verifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "verification_duration_seconds",
			Help:      "Time from proof receipt to a verification decision",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"network", "outcome"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "rejections_total",
			Help:      "Proofs rejected or denied, by error code",
		}, []string{"resource", "code"}),
		consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "proofs_consumed_total",
			Help:      "Proofs recorded in the replay guard",
		}, []string{"resource", "network"}),
		downstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "downstream_failures_total",
			Help:      "Protected operations that failed after payment was consumed",
		}, []string{"resource"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "gateway",
			Name:      "failed_operation_duration_seconds",
			Help:      "Duration of protected operations that failed",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
	}
}

// Instrument registers hooks on gw that record into m
func (m *Metrics) Instrument(gw *x402.Gateway) *x402.Gateway {
	return gw.
		OnChallenge(func(c x402.ChallengeContext) error {
			m.challenges.WithLabelValues(c.ResourceID).Inc()
			return nil
		}).
		OnAfterVerify(func(c x402.VerifyResultContext) error {
			network := string(c.Proof.Network)
			m.verifications.WithLabelValues(c.ResourceID, network).Inc()
			m.verifyDuration.WithLabelValues(network, "verified").Observe(c.Duration.Seconds())
			return nil
		}).
		OnRejected(func(c x402.RejectionContext) error {
			m.rejections.WithLabelValues(c.ResourceID, c.Error.Code).Inc()
			m.verifyDuration.WithLabelValues(string(c.Proof.Network), c.Error.Code).Observe(c.Duration.Seconds())
			return nil
		}).
		OnConsumed(func(c x402.ConsumedContext) error {
			m.consumed.WithLabelValues(c.ResourceID, string(c.Record.Network)).Inc()
			return nil
		}).
		OnDownstreamFailure(func(c x402.DownstreamFailureContext) error {
			m.downstreamFailures.WithLabelValues(c.ResourceID).Inc()
			m.operationDuration.WithLabelValues(c.ResourceID).Observe(c.Duration.Seconds())
			return nil
		})
}

// Handler serves the metrics gathered by g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
