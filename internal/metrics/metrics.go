// Package metrics exposes Prometheus collectors for the pool server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes recorded by ObserveJob.
const (
	JobCompleted = "completed"
	JobPanicked  = "panicked"
)

var (
	activeWorkers              prometheus.Gauge
	jobsTotal                  *prometheus.CounterVec
	queueDepth                 prometheus.Gauge
	responsesTotal             *prometheus.CounterVec
	connectionDurationSeconds  prometheus.Histogram
	acceptErrorsTotal          prometheus.Counter
	acceptThrottleSeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolhttpd_active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolhttpd_jobs_total",
				Help: "Total number of jobs executed by the pool, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "poolhttpd_queue_depth",
				Help: "Number of jobs waiting for a worker.",
			},
		)

		responsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolhttpd_responses_total",
				Help: "Total number of responses written, labeled by status code.",
			},
			[]string{"code"},
		)

		connectionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poolhttpd_connection_duration_seconds",
				Help:    "Histogram of time spent servicing one connection.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		acceptErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "poolhttpd_accept_errors_total",
				Help: "Total number of failed accept calls on the listening socket.",
			},
		)

		acceptThrottleSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poolhttpd_accept_throttle_seconds",
				Help:    "Histogram of time the accept loop waited on the admission rate limit.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolhttpd_admin_requests_total",
				Help: "Total number of admin API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poolhttpd_admin_request_duration_seconds",
				Help:    "Histogram of admin API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveJob increments the job counter for the given outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current backlog.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveResponse records one written response and its handling time.
func ObserveResponse(code int, duration time.Duration) {
	Init()
	responsesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	connectionDurationSeconds.Observe(duration.Seconds())
}

// ObserveAcceptError increments the accept failure counter.
func ObserveAcceptError() {
	Init()
	acceptErrorsTotal.Inc()
}

// ObserveThrottleDelay records how long the accept loop was held back.
func ObserveThrottleDelay(duration time.Duration) {
	Init()
	acceptThrottleSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one admin API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
