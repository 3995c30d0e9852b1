package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkilian/eventlens/internal/errors"
)

// Metrics records service measurements as Prometheus collectors and keeps
// in-process operation statistics.
type Metrics struct {
	ingested      *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec

	stats *OperationStats
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, stats *OperationStats) *Metrics {
	m := &Metrics{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlens",
			Name:      "events_ingested_total",
			Help:      "Events accepted by ingestion, by project.",
		}, []string{"project"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventlens",
			Name:      "query_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlens",
			Name:      "query_errors_total",
			Help:      "Failed service operations, by error category.",
		}, []string{"operation", "category"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlens",
			Name:      "cache_requests_total",
			Help:      "Aggregate cache lookups, by result.",
		}, []string{"result"}),
		stats: stats,
	}
	reg.MustRegister(m.ingested, m.queryDuration, m.queryErrors, m.cacheRequests)
	return m
}

// ObserveQuery records the duration and outcome of an operation.
func (m *Metrics) ObserveQuery(op string, d time.Duration, err error) {
	m.queryDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		category := string(errors.GetCategory(err))
		if category == "" {
			category = string(errors.ErrCategoryInternal)
		}
		m.queryErrors.WithLabelValues(op, category).Inc()
	}
	if m.stats != nil {
		m.stats.RecordOperation(op, d, err != nil)
	}
}

// EventIngested counts one stored event.
func (m *Metrics) EventIngested(project string) {
	if project == "" {
		project = "_all"
	}
	m.ingested.WithLabelValues(project).Inc()
	if m.stats != nil {
		m.stats.RecordScope(project, "ingest")
	}
}

// CacheResult counts one cache lookup outcome: hit, miss or error.
func (m *Metrics) CacheResult(result string) {
	m.cacheRequests.WithLabelValues(result).Inc()
}

// Stats returns the in-process operation statistics, or nil.
func (m *Metrics) Stats() *OperationStats { return m.stats }
