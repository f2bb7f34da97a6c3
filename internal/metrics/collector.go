// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records Prometheus metrics for the HTTP surface, the
// evaluation pipeline, provider calls, the cache, the rate limiter, and
// webhook delivery.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Evaluation pipeline
	callsProcessedTotal *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	activeRuns          prometheus.Gauge

	// Provider calls
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerFallbacksTotal  *prometheus.CounterVec

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Rate limiter
	rateLimitDenied *prometheus.CounterVec

	// Webhook delivery
	webhookDeliveries *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered against the default
// Prometheus registry under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.callsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_processed_total",
			Help:      "Total number of calls that reached a terminal pipeline state",
		},
		[]string{"status"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	c.activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of simulated conversation runs in flight",
		},
	)

	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of external provider requests",
		},
		[]string{"capability", "provider", "status"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "External provider request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"capability", "provider"},
	)

	c.providerFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Total number of provider fallback advances",
		},
		[]string{"capability", "from_provider"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.rateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Total number of requests denied by the rate limiter",
		},
		[]string{"class"},
	)

	c.webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook delivery attempts",
		},
		[]string{"event", "outcome"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCallProcessed records a call reaching completed or failed.
func (c *Collector) RecordCallProcessed(status string) {
	c.callsProcessedTotal.WithLabelValues(status).Inc()
}

// RecordStageDuration records how long a pipeline stage took.
func (c *Collector) RecordStageDuration(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RunStarted increments the active-run gauge.
func (c *Collector) RunStarted() { c.activeRuns.Inc() }

// RunFinished decrements the active-run gauge.
func (c *Collector) RunFinished() { c.activeRuns.Dec() }

// RecordProviderRequest records one external provider call.
func (c *Collector) RecordProviderRequest(capability, provider, status string, duration time.Duration) {
	c.providerRequestsTotal.WithLabelValues(capability, provider, status).Inc()
	c.providerRequestDuration.WithLabelValues(capability, provider).Observe(duration.Seconds())
}

// RecordProviderFallback records an advance past a failed provider.
func (c *Collector) RecordProviderFallback(capability, fromProvider string) {
	c.providerFallbacksTotal.WithLabelValues(capability, fromProvider).Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordRateLimitDenied records a 429 decision for an endpoint class.
func (c *Collector) RecordRateLimitDenied(class string) {
	c.rateLimitDenied.WithLabelValues(class).Inc()
}

// RecordWebhookDelivery records one delivery attempt outcome
// (delivered, retried, dropped).
func (c *Collector) RecordWebhookDelivery(event, outcome string) {
	c.webhookDeliveries.WithLabelValues(event, outcome).Inc()
}

func statusCode(status int) string {
	return strconv.Itoa(status)
}
