package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuploader",
		Subsystem: "workflow",
		Name:      "outcomes_total",
		Help:      "Upload workflow outcomes by platform and kind.",
	}, []string{"platform", "outcome"})
	metricStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fuploader",
		Subsystem: "workflow",
		Name:      "step_duration_seconds",
		Help:      "Time spent in each recipe step by kind.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"platform", "kind"})
)
