package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coinflip"

// Metrics owns the Prometheus collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	operations   *prometheus.CounterVec
	flips        *prometheus.CounterVec
	walletCalls  *prometheus.CounterVec
	walletTiming *prometheus.HistogramVec
	webhooks     *prometheus.CounterVec
	sweeps       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "operations_total",
			Help:      "Game operations by name and status.",
		}, []string{"operation", "status"}),
		flips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "flips_total",
			Help:      "Flips by outcome.",
		}, []string{"outcome"}),
		walletCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "calls_total",
			Help:      "Wallet callout attempts by type and result.",
		}, []string{"type", "result"}),
		walletTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "call_duration_seconds",
			Help:      "Duration of wallet callout attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"type"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event and result.",
		}, []string{"event", "result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and success.",
		}, []string{"job", "success"}),
	}
	metrics.registry.MustRegister(
		metrics.httpInFlight,
		metrics.httpRequests,
		metrics.httpDuration,
		metrics.operations,
		metrics.flips,
		metrics.walletCalls,
		metrics.walletTiming,
		metrics.webhooks,
		metrics.sweeps,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return metrics
}

// Registry exposes the underlying registry, mainly for tests.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one handled request. route is the matched route pattern.
func (metrics *Metrics) ObserveHTTP(method string, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	metrics.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (metrics *Metrics) TrackInFlight() func() {
	metrics.httpInFlight.Inc()
	return metrics.httpInFlight.Dec
}

// RecordOperation counts one game operation.
func (metrics *Metrics) RecordOperation(operation string, status string) {
	metrics.operations.WithLabelValues(operation, status).Inc()
}

// RecordFlip counts one flip outcome.
func (metrics *Metrics) RecordFlip(outcome string) {
	metrics.flips.WithLabelValues(outcome).Inc()
}

// RecordWalletCall counts one wallet attempt and its latency.
func (metrics *Metrics) RecordWalletCall(txType string, result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	metrics.walletCalls.WithLabelValues(txType, result).Inc()
	metrics.walletTiming.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordWebhook counts one webhook delivery.
func (metrics *Metrics) RecordWebhook(event string, result string) {
	metrics.webhooks.WithLabelValues(event, result).Inc()
}

// RecordJob counts one scheduled job run.
func (metrics *Metrics) RecordJob(job string, success bool) {
	metrics.sweeps.WithLabelValues(job, strconv.FormatBool(success)).Inc()
}
