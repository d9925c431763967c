package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_ingested_total",
			Help: "Total number of events accepted for delivery.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of delivery attempts by final status.",
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_retries_total",
			Help: "Total number of delivery retries by failure reason.",
		},
		[]string{"reason"}, // e.g. http_error, timeout, network
	)

	DLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_dlq_total",
			Help: "Total number of deliveries abandoned after max retries.",
		},
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Outbound webhook request duration.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(EventsIngestedTotal, DeliveriesTotal, RetriesTotal, DLQTotal, DeliveryDuration)
}

// RecordEventIngested increments the ingestion counter for an event type.
func RecordEventIngested(eventType string) {
	EventsIngestedTotal.WithLabelValues(eventType).Inc()
}

// RecordDelivery records the outcome of one dispatch attempt.
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		DeliveryDuration.Observe(latency.Seconds())
	}
}

// RecordRetry counts a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ counts a delivery abandoned in max_retries_exceeded.
func RecordDLQ() {
	DLQTotal.Inc()
}
