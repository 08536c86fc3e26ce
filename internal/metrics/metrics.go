package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the distribution pipeline
type Metrics struct {
	Ingested        *prometheus.CounterVec
	Distributed     prometheus.Counter
	Discarded       prometheus.Counter
	Persisted       prometheus.Counter
	PersistFailures prometheus.Counter
	Evicted         prometheus.Counter
	Overflowed      prometheus.Counter
	Deliveries      prometheus.Counter
	DeliveryErrors  prometheus.Counter
	Alerts          *prometheus.CounterVec
	Subscribers     prometheus.Gauge
	InFlight        prometheus.Gauge
	PersistLatency  prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spoilage_events_ingested_total",
			Help: "Sensor events accepted by the ingestion endpoint, by fused status.",
		}, []string{"status"}),
		Distributed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_messages_distributed_total",
			Help: "Channel messages processed by the distribution worker.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_messages_discarded_total",
			Help: "Channel messages dropped because they could not be parsed.",
		}),
		Persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_records_persisted_total",
			Help: "Records written to the store.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_persist_failures_total",
			Help: "Background persistence or retention tasks that returned an error.",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_records_evicted_total",
			Help: "Records deleted by the per-location retention window.",
		}),
		Overflowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_records_overflowed_total",
			Help: "Records written while the store exceeded its global capacity.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_subscriber_deliveries_total",
			Help: "Messages successfully sent to real-time subscribers.",
		}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spoilage_subscriber_delivery_errors_total",
			Help: "Failed sends that caused a subscriber to be dropped.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spoilage_alerts_total",
			Help: "Spoilage alerts by dispatch result.",
		}, []string{"result"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spoilage_subscribers",
			Help: "Currently connected real-time subscribers.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spoilage_side_effects_in_flight",
			Help: "Background persistence and alert tasks currently running.",
		}),
		PersistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spoilage_persist_latency_seconds",
			Help:    "Duration of one retention-enforced insert.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.Ingested,
		m.Distributed,
		m.Discarded,
		m.Persisted,
		m.PersistFailures,
		m.Evicted,
		m.Overflowed,
		m.Deliveries,
		m.DeliveryErrors,
		m.Alerts,
		m.Subscribers,
		m.InFlight,
		m.PersistLatency,
	)

	return m
}

// NewUnregistered creates collectors that are not exposed anywhere
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
