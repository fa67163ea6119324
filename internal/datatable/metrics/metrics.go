package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics provides observability for datatable listings and exports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	QueryDuration   *prometheus.HistogramVec
	QueryFailures   *prometheus.CounterVec
	UnknownFilters  *prometheus.CounterVec
	ExportJobs      *prometheus.CounterVec
	ExportDuration  *prometheus.HistogramVec
	ExportRows      *prometheus.CounterVec
	EmailExports    *prometheus.CounterVec
	ExportQueueSize prometheus.Gauge
}

// New registers all datatable metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backoffice_datatable_query_duration_seconds",
			Help:    "Duration of datatable listing queries",
			Buckets: durationBuckets,
		}, []string{"scope_key"}),
		QueryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_datatable_query_failures_total",
			Help: "Datatable listing failures by error code",
		}, []string{"scope_key", "code"}),
		UnknownFilters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_datatable_unknown_filters_total",
			Help: "Undeclared filter keys seen in requests",
		}, []string{"scope_key", "mode"}),
		ExportJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_datatable_export_jobs_total",
			Help: "Async export jobs by final status",
		}, []string{"scope_key", "status"}),
		ExportDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backoffice_datatable_export_duration_seconds",
			Help:    "Duration of async export job execution",
			Buckets: durationBuckets,
		}, []string{"scope_key"}),
		ExportRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_datatable_export_rows_total",
			Help: "Rows written to export artifacts",
		}, []string{"scope_key"}),
		EmailExports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_datatable_email_exports_total",
			Help: "Email exports by outcome",
		}, []string{"scope_key", "outcome"}),
		ExportQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "backoffice_datatable_export_queue_size",
			Help: "Async export jobs waiting for a worker",
		}),
	}
}

// ObserveQuery records a listing duration. Call with time.Now() at the start of the query.
func (m *Metrics) ObserveQuery(scopeKey string, start time.Time) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(scopeKey).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncQueryFailure(scopeKey, code string) {
	if m == nil {
		return
	}
	m.QueryFailures.WithLabelValues(scopeKey, code).Inc()
}

func (m *Metrics) AddUnknownFilters(scopeKey, mode string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.UnknownFilters.WithLabelValues(scopeKey, mode).Add(float64(n))
}

func (m *Metrics) IncExportJob(scopeKey, status string) {
	if m == nil {
		return
	}
	m.ExportJobs.WithLabelValues(scopeKey, status).Inc()
}

func (m *Metrics) ObserveExport(scopeKey string, start time.Time, rows int) {
	if m == nil {
		return
	}
	m.ExportDuration.WithLabelValues(scopeKey).Observe(time.Since(start).Seconds())
	m.ExportRows.WithLabelValues(scopeKey).Add(float64(rows))
}

func (m *Metrics) IncEmailExport(scopeKey, outcome string) {
	if m == nil {
		return
	}
	m.EmailExports.WithLabelValues(scopeKey, outcome).Inc()
}

func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.ExportQueueSize.Set(float64(n))
}
