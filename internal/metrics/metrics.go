// Package metrics exposes Prometheus collectors for the enricher.
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

// Pipeline stage labels.
const (
	StageFetch     = "fetch"
	StageTranslate = "translate"
	StageExtract   = "extract"
	StageWrite     = "write"
)

var (
	recordsTotal               *prometheus.CounterVec
	pipelinesInFlight          prometheus.Gauge
	stageDurationSeconds       *prometheus.HistogramVec
	batchesTotal               prometheus.Counter
	batchSize                  prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      prometheus.Histogram

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_records_total",
				Help: "Total number of company records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pipelinesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_pipelines_in_flight",
				Help: "Number of record pipelines currently running.",
			},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"stage"},
		)

		batchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_batches_total",
				Help: "Total number of batches dispatched.",
			},
		)

		batchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enricher_batch_size",
				Help:    "Number of records per dispatched batch.",
				Buckets: prometheus.LinearBuckets(1, 2, 8),
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests to the ops server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops server request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enricher_rate_limit_delay_seconds",
				Help:    "Time page loads spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRecord counts one finished record.
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveBatch counts a dispatched batch of n records.
func ObserveBatch(n int) {
	Init()
	batchesTotal.Inc()
	batchSize.Observe(float64(n))
}

// IncInFlight increments the in-flight pipelines gauge.
func IncInFlight() {
	Init()
	pipelinesInFlight.Inc()
}

// DecInFlight decrements the in-flight pipelines gauge.
func DecInFlight() {
	Init()
	pipelinesInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records a wait imposed by the per-host limiter.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}
