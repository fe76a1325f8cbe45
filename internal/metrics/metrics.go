package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"tenant", "type", "result"},
	)

	eventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_events_dispatched_total",
			Help: "Total number of events dispatched to subscribers",
		},
		[]string{"tenant", "type", "status"},
	)

	eventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_events_dead_lettered_total",
			Help: "Total number of events moved to the dead letter state",
		},
		[]string{"tenant", "type"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"tenant", "status"},
	)

	webhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventcore_webhook_duration_seconds",
			Help:    "Webhook delivery latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tenant"},
	)

	replaysActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventcore_replays_active",
			Help: "Number of replay runs currently in progress",
		},
	)

	replaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_replays_total",
			Help: "Total number of finished replay runs",
		},
		[]string{"tenant", "status"},
	)

	logEntriesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventcore_log_entries_swept_total",
			Help: "Total number of expired log entries removed by retention sweeps",
		},
	)

	queueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_queue_jobs_total",
			Help: "Total number of queue jobs by terminal outcome",
		},
		[]string{"queue", "outcome"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func EventPublished(tenantID, eventType string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	eventsPublished.WithLabelValues(tenantID, eventType, result).Inc()
}

func EventDispatched(tenantID, eventType, status string) {
	eventsDispatched.WithLabelValues(tenantID, eventType, status).Inc()
}

func EventDeadLettered(tenantID, eventType string) {
	eventsDeadLettered.WithLabelValues(tenantID, eventType).Inc()
}

func WebhookDelivered(tenantID string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	webhookDeliveries.WithLabelValues(tenantID, status).Inc()
	webhookDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
}

func ReplayStarted(tenantID string) {
	replaysActive.Inc()
}

func ReplayFinished(tenantID, status string) {
	replaysActive.Dec()
	replaysTotal.WithLabelValues(tenantID, status).Inc()
}

func LogEntriesSwept(count int) {
	logEntriesSwept.Add(float64(count))
}

func QueueJobFinished(queue, outcome string) {
	queueJobs.WithLabelValues(queue, outcome).Inc()
}
