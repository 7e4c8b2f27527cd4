package syncd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "metald",
		Subsystem: "sync",
		Name:      "reports_accepted_total",
		Help:      "Hardware reports accepted and merged into machine records.",
	})

	reportsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "metald",
		Subsystem: "sync",
		Name:      "reports_rejected_total",
		Help:      "Hardware reports rejected because sync was not enabled.",
	})

	machinesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "metald",
		Subsystem: "sync",
		Name:      "machines_released_total",
		Help:      "Machines released and returned to the ready pool.",
	})
)
