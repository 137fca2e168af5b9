package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seawaywind_provider_api_calls_total",
			Help: "Total WillyWeather API calls",
		},
		[]string{"station", "endpoint", "status"},
	)

	ProviderAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seawaywind_provider_api_latency_seconds",
			Help:    "WillyWeather API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"station", "endpoint"},
	)

	DocumentsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seawaywind_documents_collected_total",
			Help: "Total raw provider documents stored",
		},
		[]string{"station", "bucket"},
	)

	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seawaywind_builds_total",
			Help: "Total daily analysis builds by outcome",
		},
		[]string{"station", "status"},
	)

	MergedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seawaywind_merged_records_total",
			Help: "Total merged observation/forecast records written",
		},
		[]string{"station"},
	)

	DailyMAE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "seawaywind_daily_mae_knots",
			Help: "Mean absolute forecast error of the most recently built day",
		},
		[]string{"station"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seawaywind_http_requests_total",
			Help: "Total API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
