// Package metrics exposes Prometheus collectors for batches and the HTTP API.
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

var (
	fetchItemsTotal            *prometheus.CounterVec
	fetchItemDurationSeconds   *prometheus.HistogramVec
	fetchInFlight              *prometheus.GaugeVec
	fetchBatchesTotal          *prometheus.CounterVec
	fetchBatchDurationSeconds  *prometheus.HistogramVec
	fetchBatchItems            *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call more than once.
func Init() {
	once.Do(func() {
		fetchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_items_total",
				Help: "Items fetched, labeled by batch source and outcome kind.",
			},
			[]string{"source", "outcome"},
		)
		fetchItemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_item_duration_seconds",
				Help:    "Time spent in the fetch function per item.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)
		fetchInFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetch_in_flight",
				Help: "Items currently being fetched.",
			},
			[]string{"source"},
		)
		fetchBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_batches_total",
				Help: "Completed batches.",
			},
			[]string{"source"},
		)
		fetchBatchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_batch_duration_seconds",
				Help:    "Wall time of whole batches.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)
		fetchBatchItems = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_batch_items",
				Help:    "Number of items per batch.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
			[]string{"source"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BatchObserver implements batch.Observer. Source separates batches started by different callers
// (for example "api" and "research").
type BatchObserver struct {
	source string
}

// NewBatchObserver initializes the collectors and returns an observer for source.
func NewBatchObserver(source string) BatchObserver {
	Init()
	return BatchObserver{source: source}
}

// ItemStarted implements batch.Observer.
func (o BatchObserver) ItemStarted() {
	fetchInFlight.WithLabelValues(o.source).Inc()
}

// ItemFinished implements batch.Observer.
func (o BatchObserver) ItemFinished(kind string, elapsed time.Duration) {
	fetchInFlight.WithLabelValues(o.source).Dec()
	fetchItemsTotal.WithLabelValues(o.source, kind).Inc()
	fetchItemDurationSeconds.WithLabelValues(o.source).Observe(elapsed.Seconds())
}

// BatchFinished implements batch.Observer.
func (o BatchObserver) BatchFinished(items int, elapsed time.Duration) {
	fetchBatchesTotal.WithLabelValues(o.source).Inc()
	fetchBatchDurationSeconds.WithLabelValues(o.source).Observe(elapsed.Seconds())
	fetchBatchItems.WithLabelValues(o.source).Observe(float64(items))
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
