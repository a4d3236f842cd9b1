package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokuhai_http_requests_total",
			Help: "HTTP requests by route and status class.",
		},
		[]string{"endpoint", "status"},
	)

	RequestHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sokuhai_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	QuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokuhai_quotes_total",
			Help: "Fare calculations by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)

	QuoteTotalYen = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sokuhai_quote_total_yen",
			Help:    "Total customer price of successful quotes.",
			Buckets: prometheus.ExponentialBuckets(2000, 1.5, 12),
		},
		[]string{"flow"},
	)

	RouteLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokuhai_route_lookups_total",
			Help: "Distance lookups by source (cache, provider) and result.",
		},
		[]string{"source", "result"},
	)

	InvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sokuhai_fare_invariant_violations_total",
			Help: "Breakdowns that failed reconciliation and were re-derived.",
		},
	)

	QuoteSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sokuhai_quote_sessions_active",
			Help: "Open debounced quote sessions.",
		},
	)

	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sokuhai_order_transitions_total",
			Help: "Order status transitions.",
		},
		[]string{"to"},
	)
)

// Init registers every collector with the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(
		RequestCounter,
		RequestHistogram,
		QuotesTotal,
		QuoteTotalYen,
		RouteLookups,
		InvariantViolations,
		QuoteSessionsActive,
		OrderTransitions,
	)
}
