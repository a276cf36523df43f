package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llamagate",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Pending requests waiting for the processor",
	})

	heartbeatFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llamagate",
		Subsystem: "scheduler",
		Name:      "heartbeat_frames_total",
		Help:      "Keepalive frames written to queued streaming requests",
	})
)

func init() {
	prometheus.MustRegister(queueDepthGauge, heartbeatFramesTotal)
}
