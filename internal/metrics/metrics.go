package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igw_requests_total",
			Help: "Inference requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // chat|image , ok|auth_error|quota_exceeded|rate_limited|...
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igw_dispatch_total",
			Help: "Upstream dispatch attempts by provider and outcome",
		},
		[]string{"provider", "outcome"}, // success|failed|no_matching_model
	)

	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "igw_dispatch_latency_seconds",
			Help:    "Upstream call latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)

	ProvidersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "igw_providers_active",
			Help: "Providers currently eligible for selection",
		},
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igw_provider_probes_total",
			Help: "Provider health probes by outcome",
		},
		[]string{"outcome"}, // healthy|unhealthy
	)

	BurstFlagsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "igw_burst_flags_total",
			Help: "Requests rejected by the burst limiter",
		},
	)

	UsageEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igw_usage_events_total",
			Help: "Usage events by stage",
		},
		[]string{"stage"}, // published|publish_failed|sunk
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RequestsTotal,
		DispatchTotal,
		DispatchLatency,
		ProvidersActive,
		ProbesTotal,
		BurstFlagsTotal,
		UsageEventsTotal,
	)
}
