package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BillingMetrics struct {
	webhookEvents *prometheus.CounterVec
	meterEvents   *prometheus.CounterVec
	estimateCache *prometheus.CounterVec
	contributions *prometheus.CounterVec
}

// New registers the billing collectors on registerer. A nil registerer
// falls back to the default one.
func New(registerer prometheus.Registerer) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	webhookEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Payment provider webhook events by type and outcome.",
		},
		[]string{"type", "outcome"}, // processed | duplicate | ignored | skipped | rejected | failed
	)

	meterEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_meter_events_total",
			Help: "Usage meter events by kind and result.",
		},
		[]string{"kind", "result"}, // applied | dropped | failed
	)

	estimateCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_estimate_cache_total",
			Help: "Cost estimate cache lookups by result.",
		},
		[]string{"result"}, // hit | miss | error
	)

	contributions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_contributions_total",
			Help: "Contributions recorded by kind.",
		},
		[]string{"kind"},
	)

	registerer.MustRegister(webhookEvents, meterEvents, estimateCache, contributions)

	return &BillingMetrics{
		webhookEvents: webhookEvents,
		meterEvents:   meterEvents,
		estimateCache: estimateCache,
		contributions: contributions,
	}
}

func (m *BillingMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *BillingMetrics) IncMeterEvent(kind, result string) {
	if m == nil {
		return
	}
	m.meterEvents.WithLabelValues(kind, result).Inc()
}

func (m *BillingMetrics) IncEstimateCache(result string) {
	if m == nil {
		return
	}
	m.estimateCache.WithLabelValues(result).Inc()
}

func (m *BillingMetrics) IncContribution(kind string) {
	if m == nil {
		return
	}
	m.contributions.WithLabelValues(kind).Inc()
}

// Handler serves the collectors of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
