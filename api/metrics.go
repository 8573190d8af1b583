package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apiMetrics holds the API's Prometheus collectors on a private registry.
type apiMetrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	idsIssued         prometheus.Counter
	publishFailures   prometheus.Counter
	statusWriteErrors prometheus.Counter
	retrievals        *prometheus.CounterVec
	statusChecks      *prometheus.CounterVec
}

func newAPIMetrics() *apiMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &apiMetrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_api_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postcard_api_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		idsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcard_api_ids_issued_total",
			Help: "Client identifiers handed out after their fan-out message was accepted.",
		}),
		publishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcard_api_publish_failures_total",
			Help: "Fan-out messages Kafka refused.",
		}),
		statusWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "postcard_api_status_write_errors_total",
			Help: "Best-effort Redis status writes that failed.",
		}),
		retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_api_retrievals_total",
			Help: "Image list requests by outcome.",
		}, []string{"outcome"}),
		statusChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postcard_api_status_checks_total",
			Help: "Progress checks by outcome.",
		}, []string{"outcome"}),
	}
}

// middleware records request count and latency per matched route.
func (m *apiMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

func (m *apiMetrics) recordRetrieval(outcome string) {
	m.retrievals.WithLabelValues(outcome).Inc()
}

func (m *apiMetrics) recordStatusCheck(outcome string) {
	m.statusChecks.WithLabelValues(outcome).Inc()
}

func (m *apiMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
