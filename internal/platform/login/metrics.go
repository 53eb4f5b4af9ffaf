package login

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricLogins = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuploader",
	Subsystem: "login",
	Name:      "attempts_total",
	Help:      "Interactive login attempts by platform and result.",
}, []string{"platform", "result"})
