// Package metrics provides Prometheus metrics for the livescore pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the livescore service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Gateway
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	submissionsAccepted  prometheus.Counter
	submissionsRejected  *prometheus.CounterVec
	documentsAccepted    prometheus.Counter
	documentsInvalid     prometheus.Counter
	credentialReloads    *prometheus.CounterVec
	credentialKeysLoaded prometheus.Gauge

	// Queue
	queueDepth        prometheus.Gauge
	queueEnqueued     prometheus.Counter
	queueRequeued     prometheus.Counter
	queueDeadLettered prometheus.Counter

	// Aggregator and store
	batchDuration    prometheus.Histogram
	batchSize        prometheus.Histogram
	batchOutcomes    *prometheus.CounterVec
	recordsCommitted prometheus.Counter
	recordsDuplicate prometheus.Counter
	recordsUnchanged prometheus.Counter

	// Rate engine
	rateComputations prometheus.Counter

	// Live distribution
	pushSubscribers    *prometheus.GaugeVec
	pushEvents         *prometheus.CounterVec
	brokerPublishes    *prometheus.CounterVec
	brokerBreakerState prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegisterer(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "livescore",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every series
	auto := promauto.With(m.registry)

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.submissionsAccepted = m.counter("submissions_accepted_total", "Submissions accepted by the gateway")
	m.submissionsRejected = m.counterVec("submissions_rejected_total", "Submissions rejected by the gateway", "reason")
	m.documentsAccepted = m.counter("documents_accepted_total", "Score documents handed to the queue")
	m.documentsInvalid = m.counter("documents_invalid_total", "Score documents rejected by validation")
	m.credentialReloads = m.counterVec("credential_reloads_total", "Credential file reload attempts", "result")
	m.credentialKeysLoaded = m.gauge("credential_keys", "Keys currently loaded from the credential file")

	m.queueDepth = m.gauge("queue_depth", "Documents waiting for the next flush")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Documents enqueued")
	m.queueRequeued = m.counter("queue_requeued_total", "Documents returned to the queue after a failed flush")
	m.queueDeadLettered = m.counter("queue_dead_lettered_total", "Documents moved to the dead-letter file")

	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_duration_seconds",
		Help:      "Time spent parsing and storing one batch",
		Buckets:   m.histogramBuckets,
	})
	m.batchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_documents",
		Help:      "Documents drained per flush",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})
	m.batchOutcomes = m.counterVec("batch_outcomes_total", "Flush outcomes", "outcome")
	m.recordsCommitted = m.counter("records_committed_total", "Snapshots committed to the store")
	m.recordsDuplicate = m.counter("records_duplicate_total", "Snapshots skipped because the same timestamp was already stored")
	m.recordsUnchanged = m.counter("records_unchanged_total", "Snapshots skipped because nothing changed since the last commit")

	m.rateComputations = m.counter("rate_computations_total", "Rate reports computed")

	m.pushSubscribers = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "push_subscribers",
		Help:      "Connected live subscribers",
	}, []string{"transport"})
	m.pushEvents = m.counterVec("push_events_total", "Events written to live subscribers", "kind")
	m.brokerPublishes = m.counterVec("broker_publishes_total", "Broker publish attempts", "result")
	m.brokerBreakerState = m.gauge("broker_breaker_state", "Broker circuit breaker state (0 closed, 1 half-open, 2 open)")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordSubmissionAccepted counts an accepted POST.
func RecordSubmissionAccepted(documents int) {
	globalManager.submissionsAccepted.Inc()
	globalManager.documentsAccepted.Add(float64(documents))
}

// RecordSubmissionRejected counts a rejected POST by reason.
func RecordSubmissionRejected(reason string) {
	globalManager.submissionsRejected.WithLabelValues(reason).Inc()
}

// RecordDocumentInvalid counts documents dropped by validation.
func RecordDocumentInvalid(n int) {
	globalManager.documentsInvalid.Add(float64(n))
}

// RecordCredentialReload counts a reload attempt ("ok" or "error").
func RecordCredentialReload(result string, keys int) {
	globalManager.credentialReloads.WithLabelValues(result).Inc()
	if result == "ok" {
		globalManager.credentialKeysLoaded.Set(float64(keys))
	}
}

// UpdateQueueDepth sets the current queue depth.
func UpdateQueueDepth(size int) {
	globalManager.queueDepth.Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueRequeue counts documents put back after a failed flush.
func RecordQueueRequeue(n int) {
	globalManager.queueRequeued.Add(float64(n))
}

// RecordDeadLetter counts documents given up on.
func RecordDeadLetter(n int) {
	globalManager.queueDeadLettered.Add(float64(n))
}

// RecordBatch records one flush: its size, duration in seconds and outcome.
func RecordBatch(documents int, seconds float64, outcome string) {
	globalManager.batchSize.Observe(float64(documents))
	globalManager.batchDuration.Observe(seconds)
	globalManager.batchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordStoreWrite records per-record results of a committed batch.
func RecordStoreWrite(committed, duplicate, unchanged int) {
	globalManager.recordsCommitted.Add(float64(committed))
	globalManager.recordsDuplicate.Add(float64(duplicate))
	globalManager.recordsUnchanged.Add(float64(unchanged))
}

// RecordRateComputation counts a rate report.
func RecordRateComputation() {
	globalManager.rateComputations.Inc()
}

// AddPushSubscriber adjusts the subscriber gauge for a transport by delta.
func AddPushSubscriber(transport string, delta int) {
	globalManager.pushSubscribers.WithLabelValues(transport).Add(float64(delta))
}

// RecordPushEvent counts an event written to a subscriber (init, update, heartbeat).
func RecordPushEvent(kind string) {
	globalManager.pushEvents.WithLabelValues(kind).Inc()
}

// RecordBrokerPublish counts a broker publish by result (ok, error, open).
func RecordBrokerPublish(result string) {
	globalManager.brokerPublishes.WithLabelValues(result).Inc()
}

// UpdateBrokerBreakerState sets the breaker state gauge.
func UpdateBrokerBreakerState(state int) {
	globalManager.brokerBreakerState.Set(float64(state))
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
