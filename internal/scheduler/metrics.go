package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricTasks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuploader",
	Subsystem: "scheduler",
	Name:      "tasks_finished_total",
	Help:      "Finished upload tasks by final status.",
}, []string{"status"})
