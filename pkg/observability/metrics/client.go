package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration tracks backend call duration in seconds.
	// Labels: component, method, status
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bfast_client_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "method", "status"},
	)

	// requestsTotal tracks total number of backend calls.
	// Labels: component, method, status
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bfast_client_requests_total",
			Help: "Total number of backend requests",
		},
		[]string{"component", "method", "status"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bfast_client_requests_in_flight",
			Help: "Current number of backend requests awaiting a response",
		},
	)

	cacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bfast_cache_results_total",
			Help: "Total cache outcomes (hit, miss, bypass, write_error, read_error).",
		},
		[]string{"result"},
	)

	cacheLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bfast_cache_latency_seconds",
			Help:    "Cache store operation latency in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)

	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bfast_cache_background_refreshes_total",
			Help: "Stale-while-revalidate refreshes by outcome.",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records one backend call. status is 0 when no response arrived.
func RecordRequest(component, method string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	requestDuration.WithLabelValues(component, method, statusStr).Observe(duration.Seconds())
	requestsTotal.WithLabelValues(component, method, statusStr).Inc()
}

// IncrementInFlight increments the in-flight requests gauge.
func IncrementInFlight() {
	requestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests gauge.
func DecrementInFlight() {
	requestsInFlight.Dec()
}

// RecordCacheResult counts a cache outcome.
func RecordCacheResult(result string) {
	cacheResultsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheLatency records the latency of a cache store operation.
func ObserveCacheLatency(operation string, d time.Duration) {
	cacheLatencySeconds.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRefresh counts a background refresh outcome (ok, error).
func RecordRefresh(outcome string) {
	refreshesTotal.WithLabelValues(outcome).Inc()
}
