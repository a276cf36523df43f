package chat

import "github.com/prometheus/client_golang/prometheus"

var toolCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "llamagate",
		Subsystem: "chat",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool name and outcome",
	},
	[]string{"tool", "outcome"},
)

func init() {
	prometheus.MustRegister(toolCallsTotal)
}
