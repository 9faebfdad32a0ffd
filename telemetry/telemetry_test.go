package telemetry_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/x402-foundation/x402-summarizer/internal/gatewaytest"
	"github.com/x402-foundation/x402-summarizer/telemetry"
)

func TestMetricsFollowGatewayOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := gatewaytest.New(t)
	telemetry.NewMetrics(reg).Instrument(f.Gateway)
	ctx := context.Background()

	f.Pay("0xgood", gatewaytest.Price, true)
	f.Pay("0xshort", gatewaytest.Price-1, true)

	assert.False(t, f.Gateway.Process(ctx, gatewaytest.Resource, nil).Granted())
	res := f.Gateway.Process(ctx, gatewaytest.Resource, gatewaytest.Proof("0xgood"))
	require.True(t, res.Granted())
	assert.False(t, f.Gateway.Process(ctx, gatewaytest.Resource, gatewaytest.Proof("0xgood")).Granted())
	assert.False(t, f.Gateway.Process(ctx, gatewaytest.Resource, gatewaytest.Proof("0xshort")).Granted())
	f.Gateway.ReportDownstreamFailure(ctx, res, errors.New("boom"), 0)

	expected := `
# HELP x402_gateway_rejections_total Proofs rejected or denied, by error code
# TYPE x402_gateway_rejections_total counter
x402_gateway_rejections_total{code="already_consumed",resource="summarize"} 1
x402_gateway_rejections_total{code="insufficient_payment",resource="summarize"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "x402_gateway_rejections_total"))

	counts, err := testutil.GatherAndCount(reg,
		"x402_gateway_challenges_total",
		"x402_gateway_proofs_consumed_total",
		"x402_gateway_verifications_total",
		"x402_gateway_downstream_failures_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, counts)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["x402_gateway_challenges_total"])
	assert.Equal(t, 1.0, values["x402_gateway_proofs_consumed_total"])
	assert.Equal(t, 1.0, values["x402_gateway_verifications_total"])
	assert.Equal(t, 1.0, values["x402_gateway_downstream_failures_total"])
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := gatewaytest.New(t)
	telemetry.NewMetrics(reg).Instrument(f.Gateway)
	f.Gateway.Process(context.Background(), gatewaytest.Resource, nil)

	rec := httptest.NewRecorder()
	telemetry.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `x402_gateway_challenges_total{resource="summarize"} 1`)
}

func TestSetupTracingNone(t *testing.T) {
	shutdown, err := telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{Exporter: "none"}, gatewaytest.Logger())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingUnknownExporter(t *testing.T) {
	_, err := telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{Exporter: "jaeger"}, gatewaytest.Logger())
	assert.Error(t, err)
}

func TestVerificationSpansAreExported(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{
		ServiceName:    "x402-summarizer-test",
		ServiceVersion: "test",
		Exporter:       "stdout",
		Writer:         &buf,
	}, gatewaytest.Logger())
	require.NoError(t, err)

	f := gatewaytest.New(t)
	f.Pay("0xtraced", gatewaytest.Price, true)
	res := f.Gateway.Process(context.Background(), gatewaytest.Resource, gatewaytest.Proof("0xtraced"))
	require.True(t, res.Granted())

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"x402.verify"`)
	assert.Contains(t, out, "0xtraced")
	assert.Contains(t, out, string(gatewaytest.Network))
}
