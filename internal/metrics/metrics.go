// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ListingsUpserted counts per-item upsert outcomes by source and result.
	ListingsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aucradar_listings_upserted_total",
			Help: "Listings processed by the upsert engine, by source and result.",
		},
		[]string{"source", "result"},
	)
	// JobsFinished counts terminal crawl and refresh jobs.
	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aucradar_jobs_finished_total",
			Help: "Crawl and refresh jobs by kind, source and terminal status.",
		},
		[]string{"kind", "source", "status"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aucradar_job_duration_seconds",
			Help:    "Wall time of crawl and refresh jobs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind", "source"},
	)
	// PartitionFailures counts upstream partitions (court codes, onbid runs)
	// skipped after a fetch error.
	PartitionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aucradar_source_partition_failures_total",
			Help: "Upstream partitions skipped after a fetch error.",
		},
		[]string{"source"},
	)
	FanOutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aucradar_alert_fanout_failures_total",
			Help: "Alert fan-outs that failed and were rolled back to their savepoint.",
		},
	)
	NotificationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aucradar_notifications_enqueued_total",
			Help: "PENDING notification logs created by the ingestion fan-out.",
		},
		[]string{"channel"},
	)
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aucradar_notifications_total",
			Help: "Notification delivery outcomes by channel and status.",
		},
		[]string{"channel", "status"},
	)
	EnrichmentFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aucradar_price_prediction_failures_total",
			Help: "Price prediction calls that failed or returned no price.",
		},
	)
	EventPublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aucradar_event_publish_failures_total",
			Help: "Domain events that could not be published.",
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(ListingsUpserted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(PartitionFailures)
	prometheus.MustRegister(FanOutFailures)
	prometheus.MustRegister(NotificationsEnqueued)
	prometheus.MustRegister(NotificationsSent)
	prometheus.MustRegister(EnrichmentFailures)
	prometheus.MustRegister(EventPublishFailures)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
