package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/varghand/varghand-admin-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the admin backend.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	pagesFetched    *prometheus.CounterVec
	saleRecords     *prometheus.CounterVec
	reportsTotal    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admin_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_external_errors_total",
				Help: "Total errors from external sales platforms.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		pagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_source_pages_fetched_total",
				Help: "Total pages fetched from external sales platforms.",
			},
			[]string{"source"},
		),
		saleRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_sale_records_total",
				Help: "Total normalized sale records served.",
			},
			[]string{"source"},
		),
		reportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_reports_total",
				Help: "Total report requests processed.",
			},
			[]string{"status"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrPagesFetched counts one fetched page of an external listing API.
func (m *Metrics) IncrPagesFetched(source string) {
	m.pagesFetched.WithLabelValues(source).Inc()
}

// AddSaleRecords counts normalized sale records produced by a source.
func (m *Metrics) AddSaleRecords(source string, n int) {
	m.saleRecords.WithLabelValues(source).Add(float64(n))
}

// IncrReport increments the report counter with a status label.
func (m *Metrics) IncrReport(status string) {
	m.reportsTotal.WithLabelValues(status).Inc()
}

// GetReportSnapshot returns a snapshot of pipeline metrics suitable for the
// GET /v1/metrics/report endpoint.
func (m *Metrics) GetReportSnapshot() *domain.ReportMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	success := getCounterValue(m.reportsTotal, "success")
	failed := getCounterValue(m.reportsTotal, "error")
	total := success + failed

	hits := getCounterValue(m.cacheHits, "period")
	misses := getCounterValue(m.cacheMisses, "period")

	extErrors := getCounterValue(m.externalErrors, domain.ChannelStripe) +
		getCounterValue(m.externalErrors, domain.ChannelShopify) +
		getCounterValue(m.externalErrors, domain.ChannelAppStore)

	pages := getCounterValue(m.pagesFetched, domain.ChannelStripe) +
		getCounterValue(m.pagesFetched, domain.ChannelShopify) +
		getCounterValue(m.pagesFetched, domain.ChannelAppStore)

	records := getCounterValue(m.saleRecords, domain.ChannelStripe) +
		getCounterValue(m.saleRecords, domain.ChannelShopify) +
		getCounterValue(m.saleRecords, domain.ChannelAppStore)

	errorRate := float64(0)
	if total > 0 {
		errorRate = failed / total
	}
	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.ReportMetrics{
		TotalReports:      int64(total),
		ErrorRate:         errorRate,
		CacheHitRate:      cacheHitRate,
		ExternalErrors:    int64(extErrors),
		PagesFetched:      int64(pages),
		SaleRecordsServed: int64(records),
		Period:            "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
