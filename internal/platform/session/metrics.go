package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuploader",
		Subsystem: "session",
		Name:      "acquires_total",
		Help:      "Session acquire attempts by platform and result.",
	}, []string{"platform", "result"})
	metricLiveLeases = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fuploader",
		Subsystem: "session",
		Name:      "live_leases",
		Help:      "Number of session leases currently held.",
	})
	metricRehydrateAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuploader",
		Subsystem: "session",
		Name:      "rehydrate_attempts_total",
		Help:      "Cookie reload and refresh attempts made to restore authentication.",
	}, []string{"platform"})
	metricTabsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuploader",
		Subsystem: "session",
		Name:      "tabs_closed_total",
		Help:      "Tabs closed by the orchestrator by reason.",
	}, []string{"reason"})
)
