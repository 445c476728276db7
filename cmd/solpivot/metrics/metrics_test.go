package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/solpivot/pkg/extract"
)

var _ extract.Recorder = (*Metrics)(nil)

func TestNew(t *testing.T) {
	m := New(prometheus.NewRegistry())

	if m.UnitsTotal == nil || m.DatasetsTotal == nil || m.WindowsTotal == nil || m.RowsWritten == nil || m.RowsSkipped == nil {
		t.Error("counters should not be nil")
	}
	if m.QueryDuration == nil {
		t.Error("QueryDuration should not be nil")
	}
	if m.ConsolidationsTotal == nil || m.ErrorsTotal == nil {
		t.Error("outcome counters should not be nil")
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	New(reg)
}

func TestRecordUnit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordUnit("ok")
	m.RecordUnit("ok")
	m.RecordUnit("failed")

	if got := testutil.ToFloat64(m.UnitsTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("units{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.UnitsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("units{failed} = %v, want 1", got)
	}
}

func TestRecordDataset(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordUnit("ok")
	for range 3 {
		m.RecordDataset("ok")
	}
	m.RecordDataset("failed")

	if got := testutil.ToFloat64(m.DatasetsTotal.WithLabelValues("ok")); got != 3 {
		t.Errorf("datasets{ok} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.DatasetsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("datasets{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UnitsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("units{ok} = %v, want 1", got)
	}
}

func TestRecordRows(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRows("gen_ann", 10)
	m.RecordRows("gen_ann", 5)
	m.RecordRows("bat_load", 1)
	m.RecordSkippedRows(3)
	m.RecordWindow()

	if got := testutil.ToFloat64(m.RowsWritten.WithLabelValues("gen_ann")); got != 15 {
		t.Errorf("rows{gen_ann} = %v, want 15", got)
	}
	if got := testutil.CollectAndCount(m.RowsWritten); got != 2 {
		t.Errorf("row series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.RowsSkipped); got != 3 {
		t.Errorf("skipped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.WindowsTotal); got != 1 {
		t.Errorf("windows = %v, want 1", got)
	}
}

func TestObserveQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveQuery(0.2)
	m.ObserveQuery(42)

	if count := testutil.CollectAndCount(m.QueryDuration); count != 1 {
		t.Errorf("histogram series = %d, want 1", count)
	}
}

func TestRecordErrorAndConsolidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordError("extract", "open session")
	m.RecordConsolidation("merged")
	m.RecordConsolidation("orphaned")

	expected := `
# HELP solpivot_errors_total Total number of errors by component and reason
# TYPE solpivot_errors_total counter
solpivot_errors_total{component="extract",reason="open session"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "solpivot_errors_total"); err != nil {
		t.Error(err)
	}
	if got := testutil.ToFloat64(m.ConsolidationsTotal.WithLabelValues("merged")); got != 1 {
		t.Errorf("consolidations{merged} = %v, want 1", got)
	}
}
