// Package metrics provides Prometheus instrumentation for extraction runs.
//
// Metrics exposed:
//   - solpivot_units_total: Counter of finished (scenario, collection) units by status
//   - solpivot_datasets_total: Counter of extracted properties by status
//   - solpivot_windows_total: Counter of query windows completed
//   - solpivot_rows_written_total: Counter of rows appended by dataset
//   - solpivot_rows_skipped_total: Counter of raw rows rejected by normalization
//   - solpivot_query_duration_seconds: Histogram of bridge query latency
//   - solpivot_consolidations_total: Counter of addendum merges by outcome
//   - solpivot_errors_total: Counter of errors by component and reason
//
// They are served on /metrics while a run is in progress and can be written
// to a node_exporter textfile when it ends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	UnitsTotal          *prometheus.CounterVec
	DatasetsTotal       *prometheus.CounterVec
	WindowsTotal        prometheus.Counter
	RowsWritten         *prometheus.CounterVec
	RowsSkipped         prometheus.Counter
	QueryDuration       prometheus.Histogram
	ConsolidationsTotal *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
}

// New registers the run metrics with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		UnitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solpivot_units_total",
			Help: "Total number of extraction units by status",
		}, []string{"status"}),

		DatasetsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solpivot_datasets_total",
			Help: "Total number of extracted datasets by status",
		}, []string{"status"}),

		WindowsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "solpivot_windows_total",
			Help: "Total number of query windows completed",
		}),

		RowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solpivot_rows_written_total",
			Help: "Total number of rows appended by dataset",
		}, []string{"dataset"}),

		RowsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "solpivot_rows_skipped_total",
			Help: "Total number of raw rows rejected during normalization",
		}),

		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "solpivot_query_duration_seconds",
			Help:    "Duration of bridge queries",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}),

		ConsolidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solpivot_consolidations_total",
			Help: "Total number of addendum datasets processed by outcome",
		}, []string{"outcome"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "solpivot_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

func (m *Metrics) RecordUnit(status string) {
	m.UnitsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDataset(status string) {
	m.DatasetsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordWindow() {
	m.WindowsTotal.Inc()
}

func (m *Metrics) RecordRows(dataset string, n int) {
	m.RowsWritten.WithLabelValues(dataset).Add(float64(n))
}

func (m *Metrics) RecordSkippedRows(n int) {
	m.RowsSkipped.Add(float64(n))
}

func (m *Metrics) ObserveQuery(seconds float64) {
	m.QueryDuration.Observe(seconds)
}

func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func (m *Metrics) RecordConsolidation(outcome string) {
	m.ConsolidationsTotal.WithLabelValues(outcome).Inc()
}
