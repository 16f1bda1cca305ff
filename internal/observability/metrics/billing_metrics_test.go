package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBillingMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncWebhookEvent("invoice.paid", "processed")
	m.IncWebhookEvent("invoice.paid", "processed")
	m.IncMeterEvent("request", "dropped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("invoice.paid", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.meterEvents.WithLabelValues("request", "dropped")))
}

func TestBillingMetrics_NilSafe(t *testing.T) {
	var m *BillingMetrics
	assert.NotPanics(t, func() {
		m.IncWebhookEvent("x", "y")
		m.IncMeterEvent("x", "y")
		m.IncEstimateCache("hit")
		m.IncContribution("ONE_TIME")
	})
}
