package booking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yoyaku",
		Subsystem: "booking",
		Name:      "admissions_total",
		Help:      "Admission outcomes by operation and result.",
	}, []string{"operation", "outcome"})

	expiredHoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yoyaku",
		Subsystem: "booking",
		Name:      "expired_holds_total",
		Help:      "Reserved holds transitioned to expired by the reaper.",
	})
)
