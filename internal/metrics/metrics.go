package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Outbound provider calls (search, download)
	ProviderCallTotal    *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Completed imports and the bytes they stored
	ImportTotal *prometheus.CounterVec
	ImportBytes *prometheus.HistogramVec

	// Ledger and settings operations
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec

	// Request body validation
	SchemaValidationTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide Metrics, creating and registering it on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageapi_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageapi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		ProviderCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageapi_provider_calls_total",
			Help: "Total number of calls to image providers",
		}, []string{"provider", "operation", "status"}),

		ProviderCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageapi_provider_call_duration_seconds",
			Help:    "Image provider call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"provider", "operation", "status"}),

		ImportTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageapi_imports_total",
			Help: "Total number of image imports by outcome",
		}, []string{"provider", "status"}),

		ImportBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageapi_import_bytes",
			Help:    "Size of stored imported images in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		}, []string{"provider"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageapi_storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageapi_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageapi_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageapi_event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),

		SchemaValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageapi_schema_validation_total",
			Help: "Total number of request body validations",
		}, []string{"schema", "status"}),
	}

	registerMetrics(m)
	globalMetrics = m
	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.ProviderCallTotal)
	registerOrGet(m.ProviderCallDuration)
	registerOrGet(m.ImportTotal)
	registerOrGet(m.ImportBytes)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.EventPublishDuration)
	registerOrGet(m.SchemaValidationTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// Status is the metric label for an outcome.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveProviderCall records one outbound provider call.
func (m *Metrics) ObserveProviderCall(provider, operation string, start time.Time, err error) {
	status := Status(err)
	m.ProviderCallTotal.WithLabelValues(provider, operation, status).Inc()
	m.ProviderCallDuration.WithLabelValues(provider, operation, status).Observe(time.Since(start).Seconds())
}

// ObserveStorage records one ledger or settings operation.
func (m *Metrics) ObserveStorage(operation string, start time.Time, err error) {
	status := Status(err)
	m.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// ObserveEvent records one event publish attempt.
func (m *Metrics) ObserveEvent(eventType string, start time.Time, err error) {
	status := Status(err)
	m.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	m.EventPublishDuration.WithLabelValues(eventType, status).Observe(time.Since(start).Seconds())
}
