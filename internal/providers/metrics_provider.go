package providers

import (
	"dupguard/internal/structures"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	ObservePersistenceDuration(duration time.Duration)
	SetRecordsTotal(server string, count int)
	ObserveHashDuration(duration time.Duration)
	IncImagesProcessed(source, verdict string)
	IncActions(action, outcome string)
	IncScans(kind, outcome string)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	persistenceDuration prometheus.Histogram
	recordsTotal        *prometheus.GaugeVec
	hashDuration        prometheus.Histogram
	imagesProcessed     *prometheus.CounterVec
	actions             *prometheus.CounterVec
	scans               *prometheus.CounterVec
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *MetricsProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *MetricsProvider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) SetRecordsTotal(server string, count int) {
	m.recordsTotal.WithLabelValues(server).Set(float64(count))
}

func (m *MetricsProvider) ObserveHashDuration(duration time.Duration) {
	m.hashDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) IncImagesProcessed(source, verdict string) {
	m.imagesProcessed.WithLabelValues(source, verdict).Inc()
}

func (m *MetricsProvider) IncActions(action, outcome string) {
	m.actions.WithLabelValues(action, outcome).Inc()
}

func (m *MetricsProvider) IncScans(kind, outcome string) {
	m.scans.WithLabelValues(kind, outcome).Inc()
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func NewMetricsProvider(conf *structures.Config) MetricsProviderInterface {
	if !conf.Metrics.Enabled {
		return &noopMetrics{}
	}

	return &MetricsProvider{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dupguard_requests_total",
			Help: "Total number of admin HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dupguard_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dupguard_hash_cache_hits_total",
			Help: "Total number of fingerprint cache hits",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dupguard_hash_cache_misses_total",
			Help: "Total number of fingerprint cache misses",
		}),

		persistenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dupguard_persistence_duration_seconds",
			Help:    "Duration of fingerprint file writes in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		recordsTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dupguard_records_total",
			Help: "Number of stored fingerprint records per server",
		}, []string{"server"}),

		hashDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dupguard_hash_duration_seconds",
			Help:    "Time spent decoding and hashing one image",
			Buckets: prometheus.DefBuckets,
		}),

		imagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dupguard_images_processed_total",
			Help: "Images evaluated, by source (live, scan, catchup) and verdict",
		}, []string{"source", "verdict"}),

		actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dupguard_actions_total",
			Help: "Moderation actions attempted, by kind and outcome",
		}, []string{"action", "outcome"}),

		scans: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dupguard_scans_total",
			Help: "Reconciliation runs, by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncCacheHits()                                    {}
func (n *noopMetrics) IncCacheMisses()                                  {}
func (n *noopMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (n *noopMetrics) SetRecordsTotal(_ string, _ int)                  {}
func (n *noopMetrics) ObserveHashDuration(_ time.Duration)              {}
func (n *noopMetrics) IncImagesProcessed(_, _ string)                   {}
func (n *noopMetrics) IncActions(_, _ string)                           {}
func (n *noopMetrics) IncScans(_, _ string)                             {}
