package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksEnqueued    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "aura_tasks_enqueued_total", Help: "Tasks enqueued by the API, by type"}, []string{"type"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "aura_rate_limit_rejects_total", Help: "Requests rejected by the per-user rate limiter"})
	JobsConsumed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "aura_jobs_consumed_total", Help: "Stream entries delivered to a worker"})
	MalformedJobs    = prometheus.NewCounter(prometheus.CounterOpts{Name: "aura_jobs_malformed_total", Help: "Stream entries dropped for an unparseable or incomplete payload"})
	HandlerOutcomes  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "aura_jobs_resolved_total", Help: "Units of work resolved, by terminal status"}, []string{"status"})
	QueueErrors      = prometheus.NewCounter(prometheus.CounterOpts{Name: "aura_queue_errors_total", Help: "Redis stream read and ack failures"})
	PendingJobs      = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "aura_jobs_pending", Help: "Delivered but unacknowledged stream entries, by stream"}, []string{"stream"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "aura_jobs_inflight", Help: "Units of work currently executing"})
	RelaySessions    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "aura_relay_sessions", Help: "Open websocket status sessions"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksEnqueued,
			RateLimitRejects,
			JobsConsumed,
			MalformedJobs,
			HandlerOutcomes,
			QueueErrors,
			PendingJobs,
			InFlightGauge,
			RelaySessions,
		)
	})
	return promhttp.Handler()
}
