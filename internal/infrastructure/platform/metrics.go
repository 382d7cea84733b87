package platform

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_platform_fetches_total",
			Help: "Platform token fetches by outcome",
		},
		[]string{"outcome"},
	)

	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "license_platform_fetch_duration_seconds",
			Help: "Latency of platform token fetches including retries",
		},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_platform_retries_total",
			Help: "Retry attempts against the platform licensing endpoint",
		},
	)
)

func init() {
	prometheus.MustRegister(fetchesTotal)
	prometheus.MustRegister(fetchDuration)
	prometheus.MustRegister(retriesTotal)
}
