package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// workerMetrics holds the worker's Prometheus collectors on a private registry.
type workerMetrics struct {
	registry *prometheus.Registry

	attemptsTotal     *prometheus.CounterVec
	outcomesTotal     *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	inFlight          *prometheus.GaugeVec
	subJobsPublished  prometheus.Counter
	imagesStored      prometheus.Counter
	fetchErrorsTotal  *prometheus.CounterVec
	progressRequests  *prometheus.CounterVec
	statusWriteErrors prometheus.Counter
	manifestWrites    *prometheus.CounterVec
}

func newWorkerMetrics() *workerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &workerMetrics{
		registry: reg,
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_worker_attempts_total",
			Help: "Processing attempts started per stage.",
		}, []string{"stage"}),
		outcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_worker_messages_total",
			Help: "Messages reaching a terminal outcome per stage (processed, dropped, dead_lettered).",
		}, []string{"stage", "outcome"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postcard_worker_attempt_duration_seconds",
			Help:    "Duration of one processing attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "result"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postcard_worker_in_flight",
			Help: "Attempts currently running per stage.",
		}, []string{"stage"}),
		subJobsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcard_worker_subjobs_published_total",
			Help: "SubJobs published by the fan-out stage.",
		}),
		imagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcard_worker_images_stored_total",
			Help: "Annotated images written to storage.",
		}),
		fetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_worker_kafka_fetch_errors_total",
			Help: "Kafka fetch-loop errors per stage.",
		}, []string{"stage"}),
		progressRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_worker_progress_requests_total",
			Help: "RabbitMQ progress requests handled by result.",
		}, []string{"result"}),
		statusWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcard_worker_status_write_errors_total",
			Help: "Best-effort Redis status writes that failed.",
		}),
		manifestWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_worker_manifest_writes_total",
			Help: "MongoDB manifest writes by result (inserted, replayed, failed).",
		}, []string{"result"}),
	}
}

// recordAttemptStart records one accepted processing attempt.
func (m *workerMetrics) recordAttemptStart(stage string) {
	m.attemptsTotal.WithLabelValues(stage).Inc()
	m.inFlight.WithLabelValues(stage).Inc()
}

// recordAttemptEnd records the result and duration of one attempt.
func (m *workerMetrics) recordAttemptEnd(stage string, err error, duration time.Duration) {
	m.inFlight.WithLabelValues(stage).Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.attemptDuration.WithLabelValues(stage, result).Observe(duration.Seconds())
}

func (m *workerMetrics) recordOutcome(stage, outcome string) {
	m.outcomesTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *workerMetrics) recordFetchError(stage string) {
	m.fetchErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *workerMetrics) recordProgressRequest(acked bool) {
	result := "acked"
	if !acked {
		result = "requeued"
	}
	m.progressRequests.WithLabelValues(result).Inc()
}

func (m *workerMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
