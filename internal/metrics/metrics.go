package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the ingestion path.
var (
	EventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalgate_events_received_total",
			Help: "Total number of webhook deliveries received",
		},
	)

	EventsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalgate_events_applied_total",
			Help: "Total number of deliveries durably applied",
		},
	)

	EventsDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalgate_events_duplicate_total",
			Help: "Total number of replayed deliveries short-circuited by the ledger",
		},
	)

	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalgate_events_rejected_total",
			Help: "Total number of rejected deliveries by reason",
		},
		[]string{"reason"},
	)

	EventsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalgate_events_failed_total",
			Help: "Total number of deliveries that failed after claiming",
		},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalgate_ingest_duration_seconds",
			Help:    "Duration of webhook ingestion from receipt to recorded outcome",
			Buckets: prometheus.DefBuckets,
		},
	)

	WidgetSessionRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalgate_widget_session_requests_total",
			Help: "Total number of aggregator widget-session requests",
		},
	)
)

// Register registers all Prometheus metrics. Safe to call once at startup.
func Register() {
	prometheus.MustRegister(
		EventsReceivedTotal,
		EventsAppliedTotal,
		EventsDuplicateTotal,
		EventsRejectedTotal,
		EventsFailedTotal,
		IngestDuration,
		WidgetSessionRequestsTotal,
	)
}
