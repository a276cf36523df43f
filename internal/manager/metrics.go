package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadedModelsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llamagate",
		Subsystem: "models",
		Name:      "loaded",
		Help:      "Number of currently resident models",
	})

	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llamagate",
		Subsystem: "models",
		Name:      "evictions_total",
		Help:      "Total models evicted to make room for another load",
	})
)

func init() {
	prometheus.MustRegister(loadedModelsGauge, evictionsTotal)
}
