package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the avclass service
type Metrics struct {
	RequestsTotal        prometheus.Counter
	RequestsInvalidTotal prometheus.Counter
	RequestErrorsTotal   prometheus.Counter
	ReportsTotal         *prometheus.CounterVec
	EmptyResultsTotal    prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DatasetReloadsTotal  *prometheus.CounterVec
	DatasetEntries       prometheus.Gauge
	NatsConnected        prometheus.Gauge
	NatsPublishErrors    prometheus.Counter
	ProcessingDuration   prometheus.Histogram
}

// NewMetrics registers every metric with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_requests_total",
			Help: "Total number of classification requests received",
		}),
		RequestsInvalidTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_requests_invalid_total",
			Help: "Total number of malformed classification requests rejected",
		}),
		RequestErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_request_errors_total",
			Help: "Total number of classification requests that failed",
		}),
		ReportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "avclass_reports_total",
			Help: "Total number of reports produced, by rule set",
		}, []string{"rule_set"}),
		EmptyResultsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_empty_results_total",
			Help: "Total number of requests that produced no report",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_cache_hits_total",
			Help: "Total number of reports served from the cache",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_cache_misses_total",
			Help: "Total number of cache lookups that missed",
		}),
		DatasetReloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "avclass_dataset_reloads_total",
			Help: "Total number of alias dataset reload attempts, by result",
		}, []string{"result"}),
		DatasetEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "avclass_dataset_entries",
			Help: "Number of entries in the active alias dataset",
		}),
		NatsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "avclass_nats_connected",
			Help: "Whether the NATS connection is up (1) or not (0)",
		}),
		NatsPublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "avclass_nats_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "avclass_processing_duration_seconds",
			Help:    "Time spent classifying a request",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

// IncRequests increments the request counter
func (m *Metrics) IncRequests() {
	m.RequestsTotal.Inc()
}

// IncRequestsInvalid increments the invalid request counter
func (m *Metrics) IncRequestsInvalid() {
	m.RequestsInvalidTotal.Inc()
}

// IncRequestErrors increments the failed request counter
func (m *Metrics) IncRequestErrors() {
	m.RequestErrorsTotal.Inc()
}

// IncReports increments the report counter for a rule set
func (m *Metrics) IncReports(ruleSet string) {
	m.ReportsTotal.WithLabelValues(ruleSet).Inc()
}

// IncEmptyResults increments the empty result counter
func (m *Metrics) IncEmptyResults() {
	m.EmptyResultsTotal.Inc()
}

// IncCacheHits increments the cache hit counter
func (m *Metrics) IncCacheHits() {
	m.CacheHitsTotal.Inc()
}

// IncCacheMisses increments the cache miss counter
func (m *Metrics) IncCacheMisses() {
	m.CacheMissesTotal.Inc()
}

// IncDatasetReloads records a dataset reload attempt
func (m *Metrics) IncDatasetReloads(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.DatasetReloadsTotal.WithLabelValues(result).Inc()
}

// SetDatasetEntries sets the active dataset size
func (m *Metrics) SetDatasetEntries(count float64) {
	m.DatasetEntries.Set(count)
}

// SetNatsConnected sets the NATS connection status
func (m *Metrics) SetNatsConnected(connected bool) {
	if connected {
		m.NatsConnected.Set(1)
	} else {
		m.NatsConnected.Set(0)
	}
}

// IncNatsPublishErrors increments the NATS publish error counter
func (m *Metrics) IncNatsPublishErrors() {
	m.NatsPublishErrors.Inc()
}

// ObserveProcessingDuration records how long a request took
func (m *Metrics) ObserveProcessingDuration(seconds float64) {
	m.ProcessingDuration.Observe(seconds)
}
