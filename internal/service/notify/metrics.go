package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yoyaku",
		Subsystem: "notify",
		Name:      "delivery_attempts_total",
		Help:      "Delivery send attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	deliveriesExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yoyaku",
		Subsystem: "notify",
		Name:      "deliveries_exhausted_total",
		Help:      "Deliveries that hit the attempt ceiling and went terminal.",
	}, []string{"channel"})

	queuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yoyaku",
		Subsystem: "notify",
		Name:      "queue_pending",
		Help:      "Pending deliveries at the last dispatcher poll.",
	})

	queueOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yoyaku",
		Subsystem: "notify",
		Name:      "queue_oldest_pending_age_seconds",
		Help:      "Age of the oldest pending delivery at the last poll.",
	})
)
