package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the delivery pipeline
var (
	ReceiptsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_receipts_received_total",
			Help: "Total number of delivery receipts received, by source",
		},
		[]string{"source"},
	)

	ReceiptsBatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_receipts_batched_total",
			Help: "Total number of delivery receipts added to a batch",
		},
	)

	BatchFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_batch_flushes_total",
			Help: "Total number of batch flushes, by outcome",
		},
		[]string{"outcome"},
	)

	BatchDroppedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_batch_dropped_entries_total",
			Help: "Total number of batch entries lost to failed flushes",
		},
	)

	BatchFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_batch_flush_duration_seconds",
			Help:    "Duration of batch flushes",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_delivered_total",
			Help: "Total number of delivered increments applied to campaigns",
		},
	)

	DispatchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_channel_outcomes_total",
			Help: "Total number of channel delivery attempts, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	SchedulerActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_activations_total",
			Help: "Total number of scheduled campaigns promoted to running",
		},
	)

	SchedulerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_errors_total",
			Help: "Total number of per-campaign scheduler failures",
		},
	)

	CampaignsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_completed_total",
			Help: "Total number of campaigns moved to completed",
		},
	)

	BackgroundTaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_task_failures_total",
			Help: "Total number of background tasks that returned an error or panicked",
		},
		[]string{"task"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(ReceiptsReceivedTotal)
	prometheus.MustRegister(ReceiptsBatchedTotal)
	prometheus.MustRegister(BatchFlushesTotal)
	prometheus.MustRegister(BatchDroppedEntriesTotal)
	prometheus.MustRegister(BatchFlushDuration)
	prometheus.MustRegister(DeliveredTotal)
	prometheus.MustRegister(DispatchOutcomesTotal)
	prometheus.MustRegister(SchedulerActivationsTotal)
	prometheus.MustRegister(SchedulerErrorsTotal)
	prometheus.MustRegister(CampaignsCompletedTotal)
	prometheus.MustRegister(BackgroundTaskFailuresTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}
