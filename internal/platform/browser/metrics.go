package browser

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricShellCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuploader",
		Subsystem: "shell",
		Name:      "calls_total",
		Help:      "Browser shell control API calls by operation and result.",
	}, []string{"op", "result"})
	metricShellLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fuploader",
		Subsystem: "shell",
		Name:      "call_duration_seconds",
		Help:      "Browser shell control API call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"op"})
)

func observeCall(op, result string, start time.Time) {
	metricShellCalls.WithLabelValues(op, result).Inc()
	metricShellLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
