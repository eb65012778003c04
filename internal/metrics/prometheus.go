package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var DeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deliveries_total",
		Help: "Delivery outcomes by channel and final status",
	},
	[]string{"channel", "status"},
)

var DeliveryAttemptDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "delivery_attempt_duration_seconds",
		Help:    "Time taken by a single transport send attempt",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"channel", "provider"},
)

var AdmissionRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admission_rejections_total",
		Help: "Jobs rejected before sending",
	},
	[]string{"channel", "reason"},
)

var QueueOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_outcomes_total",
		Help: "Consumed messages by queue and ack/nack outcome",
	},
	[]string{"queue", "outcome"},
)

var WebhookCallbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_callbacks_total",
		Help: "Provider status callbacks by provider and result",
	},
	[]string{"provider", "result"},
)

var SyncOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sync_outcomes_total",
		Help: "Profile sync attempts by platform and outcome",
	},
	[]string{"platform", "outcome"},
)

var SweepQueuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sweep_queued_total",
		Help: "Scrape requests queued by the scheduler sweep",
	},
)

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			DeliveriesTotal,
			DeliveryAttemptDuration,
			AdmissionRejectionsTotal,
			QueueOutcomesTotal,
			WebhookCallbacksTotal,
			SyncOutcomesTotal,
			SweepQueuedTotal,
			HTTPRequestsTotal,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
