package tokencache

import "github.com/prometheus/client_golang/prometheus"

var cacheReadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "license_token_cache_reads_total",
		Help: "Token cache reads by layer and result",
	},
	[]string{"layer", "result"},
)

func init() {
	prometheus.MustRegister(cacheReadsTotal)
}
