package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	cacheLatency         prometheus.Observer
	cacheWrite           prometheus.Observer
	cacheHitRatio        prometheus.Gauge
	cacheHits            prometheus.Counter
	cacheMisses          prometheus.Counter
	packagesBuilt        *prometheus.CounterVec
	packageBytes         prometheus.Counter
	artifactUpload       *prometheus.HistogramVec
	distributionsStarted *prometheus.CounterVec
	distributionStatus   *prometheus.CounterVec
	rolloutAdvance       *prometheus.CounterVec
	safetyChecks         *prometheus.CounterVec
	rollbacks            *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	packagesBuiltCount   uint64
	distributionCount    uint64
	rollbackCount        uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	packagesBuilt := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "release_packages_built_total",
		Help: "Update packages built, by direction",
	}, []string{"direction"})

	packageBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "release_package_bytes_total",
		Help: "Total bytes of uploaded package payloads",
	})

	artifactUpload := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "release_artifact_upload_seconds",
		Help:    "Duration of artifact uploads",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	distributionsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "release_distributions_started_total",
		Help: "Distributions started, by strategy",
	}, []string{"strategy"})

	distributionStatus := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "release_distribution_transitions_total",
		Help: "Distribution status transitions, by target status",
	}, []string{"to"})

	rolloutAdvance := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "release_rollout_advances_total",
		Help: "Outcomes of rollout advance evaluations",
	}, []string{"outcome"})

	safetyChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "release_safety_checks_total",
		Help: "Rollback safety check results",
	}, []string{"type", "status"})

	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "release_rollback_plans_total",
		Help: "Rollback plan transitions, by resulting status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		packagesBuilt, packageBytes, artifactUpload, distributionsStarted, distributionStatus, rolloutAdvance, safetyChecks,
		rollbacks, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:             registry,
		handler:              handler,
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		packagesBuilt:        packagesBuilt,
		packageBytes:         packageBytes,
		artifactUpload:       artifactUpload,
		distributionsStarted: distributionsStarted,
		distributionStatus:   distributionStatus,
		rolloutAdvance:       rolloutAdvance,
		safetyChecks:         safetyChecks,
		rollbacks:            rollbacks,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveArtifactUpload records one artifact store write.
func (m *MetricsService) ObserveArtifactUpload(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.artifactUpload.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPackageBuilt counts a persisted update package.
func (m *MetricsService) RecordPackageBuilt(direction models.PackageDirection, size int64) {
	if m == nil {
		return
	}
	m.packagesBuilt.WithLabelValues(string(direction)).Inc()
	m.packageBytes.Add(float64(size))
	atomic.AddUint64(&m.packagesBuiltCount, 1)
}

// RecordDistributionStarted counts a new rollout.
func (m *MetricsService) RecordDistributionStarted(strategy models.RolloutStrategy) {
	if m == nil {
		return
	}
	m.distributionsStarted.WithLabelValues(string(strategy)).Inc()
	atomic.AddUint64(&m.distributionCount, 1)
}

// RecordDistributionStatus counts a persisted status transition.
func (m *MetricsService) RecordDistributionStatus(status models.DistributionStatus) {
	if m == nil {
		return
	}
	m.distributionStatus.WithLabelValues(string(status)).Inc()
}

// RecordRolloutAdvance counts the outcome of evaluating one distribution during an advance pass.
func (m *MetricsService) RecordRolloutAdvance(outcome string) {
	if m == nil {
		return
	}
	m.rolloutAdvance.WithLabelValues(outcome).Inc()
}

// RecordSafetyChecks counts each check of an evaluated batch.
func (m *MetricsService) RecordSafetyChecks(results models.SafetyCheckResults) {
	if m == nil {
		return
	}
	for _, check := range results {
		m.safetyChecks.WithLabelValues(string(check.Type), string(check.Status)).Inc()
	}
}

// RecordRollback counts a rollback plan reaching status.
func (m *MetricsService) RecordRollback(outcome models.RollbackStatus) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(string(outcome)).Inc()
	if outcome == models.RollbackCompleted {
		atomic.AddUint64(&m.rollbackCount, 1)
	}
}

// Snapshot returns aggregated metrics suitable for the metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		PackagesBuilt:            atomic.LoadUint64(&m.packagesBuiltCount),
		DistributionsStarted:     atomic.LoadUint64(&m.distributionCount),
		RollbacksExecuted:        atomic.LoadUint64(&m.rollbackCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
