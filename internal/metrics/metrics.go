package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_router_requests_total",
			Help: "Total number of routed generation requests",
		},
		[]string{"kind", "outcome"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_router_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	DedupShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "model_router_dedup_shared_total",
			Help: "Requests answered by an identical in-flight request",
		},
	)

	FallbackFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_router_fallback_failures_total",
			Help: "Failed generation attempts inside the fallback chain",
		},
		[]string{"model", "provider"},
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_router_generation_latency_seconds",
			Help:    "Provider generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_router_provider_healthy",
			Help: "1 if the provider is currently considered healthy",
		},
		[]string{"provider"},
	)

	RequestCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_router_cost_total",
			Help: "Accumulated generation cost by model",
		},
		[]string{"model"},
	)
)
