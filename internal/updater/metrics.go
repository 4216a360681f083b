package updater

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "depflow"

var (
	entrypointInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "entrypoint_invocations_total",
			Help:      "Count of updater entry point invocations by result.",
		},
		[]string{"entrypoint", "result"},
	)

	pendingUpdates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "pending_updates",
			Help:      "Number of queued updates waiting for a retry condition.",
		},
	)
)

func observeEntrypoint(entrypoint string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	entrypointInvocations.WithLabelValues(entrypoint, result).Inc()
}
