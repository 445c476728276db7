package dataset

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/HatiCode/solpivot/pkg/normalize"
)

const header = "category,period_marker,year,month,day,hour,value\n"

func newWriter(t *testing.T) *Writer {
	t.Helper()
	return NewWriter(Layout{Root: t.TempDir(), Period: "Interval"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func row(cat string, hour int, v float64) normalize.Row {
	return normalize.Row{Category: cat, PeriodMarker: normalize.PeriodMarker, Year: 2030, Month: 1, Day: 2, Hour: hour, Value: v}
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestLayout_Path(t *testing.T) {
	l := Layout{Root: "out", Period: "Interval"}
	want := filepath.Join("out", "Interval", "Base", "outputs", "gen_ann.csv")
	if got := l.Path("Base", "gen_ann"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestWriter_HeaderOnce(t *testing.T) {
	w := newWriter(t)
	h, err := w.Open("Base", "gen_ann", Fresh)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	const batches = 5
	for i := range batches {
		if err := h.WriteRows([]normalize.Row{row("Wind", i, float64(i)+0.5)}); err != nil {
			t.Fatalf("WriteRows() error = %v", err)
		}
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := read(t, h.Path())
	if strings.Count(got, "category,") != 1 {
		t.Errorf("header count = %d, want 1:\n%s", strings.Count(got, "category,"), got)
	}
	if !strings.HasPrefix(got, header) {
		t.Errorf("file does not start with header:\n%s", got)
	}
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != batches+1 {
		t.Errorf("lines = %d, want %d", len(lines), batches+1)
	}
	if lines[1] != "Wind,p1,2030,1,2,0,0.5" {
		t.Errorf("first row = %q", lines[1])
	}
	if h.Rows() != batches {
		t.Errorf("Rows() = %d, want %d", h.Rows(), batches)
	}
}

func TestWriter_EmptyBatchWritesHeader(t *testing.T) {
	w := newWriter(t)
	h, _ := w.Open("Base", "cap", Fresh)

	if err := h.WriteRows(nil); err != nil {
		t.Fatalf("WriteRows() error = %v", err)
	}
	if err := h.WriteRows(nil); err != nil {
		t.Fatalf("WriteRows() error = %v", err)
	}
	if got := read(t, h.Path()); got != header {
		t.Errorf("file = %q, want header only", got)
	}
}

func TestWriter_FreshDeletesPreviousRunOnce(t *testing.T) {
	w := newWriter(t)
	path := w.Layout().Path("Base", "gen_ann")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(header+"Old,p1,2020,1,1,0,9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := w.Open("Base", "gen_ann", Fresh)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("previous output should be gone after first open, stat err = %v", err)
	}
	h1.WriteRows([]normalize.Row{row("Wind", 1, 1)})
	h1.Close()

	// second open in the same run appends
	h2, _ := w.Open("Base", "gen_ann", Fresh)
	h2.WriteRows([]normalize.Row{row("Solar", 2, 2)})
	h2.Close()

	got := read(t, path)
	if strings.Contains(got, "Old") {
		t.Errorf("stale rows survived:\n%s", got)
	}
	if !strings.Contains(got, "Wind") || !strings.Contains(got, "Solar") {
		t.Errorf("rows missing:\n%s", got)
	}
}

func TestWriter_AppendKeepsExisting(t *testing.T) {
	w := newWriter(t)
	path := w.Layout().Path("Base", "gen_ann")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte(header+"Old,p1,2020,1,1,0,9\n"), 0o644)

	h, _ := w.Open("Base", "gen_ann", Append)
	h.WriteRows([]normalize.Row{row("Wind", 1, 1)})

	got := read(t, path)
	if strings.Count(got, "category,") != 1 || !strings.Contains(got, "Old") || !strings.Contains(got, "Wind") {
		t.Errorf("unexpected content:\n%s", got)
	}
}

func TestWriter_OpenedFresh(t *testing.T) {
	w := newWriter(t)
	l := w.Layout()

	if _, err := w.Open("Base", "gen_ann", Fresh); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := w.Open("Base", "bat_load", Append); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// a later Fresh open of an appended dataset does not truncate it
	if _, err := w.Open("Base", "bat_load", Fresh); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{l.Path("Base", "gen_ann"), true},
		{l.OutputDir("Base") + string(filepath.Separator) + "." + string(filepath.Separator) + "gen_ann.csv", true},
		{l.Path("Base", "bat_load"), false},
		{l.Path("Base", "cap"), false},
		{l.Path("High", "gen_ann"), false},
	}
	for _, tt := range tests {
		if got := w.OpenedFresh(tt.path); got != tt.want {
			t.Errorf("OpenedFresh(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w := newWriter(t)
	h, _ := w.Open("Base", "gen_ann", Fresh)
	h.Close()
	if err := h.WriteRows([]normalize.Row{row("Wind", 1, 1)}); err == nil {
		t.Error("WriteRows after Close should fail")
	}
}

func TestWriter_ConcurrentDatasets(t *testing.T) {
	w := newWriter(t)
	names := []string{"gen_ann", "cap", "bat_load", "emit_r"}

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := w.Open("Base", name, Fresh)
			if err != nil {
				t.Errorf("Open(%s) error = %v", name, err)
				return
			}
			for i := range 20 {
				if err := h.WriteRows([]normalize.Row{row(name, i%24, float64(i))}); err != nil {
					t.Errorf("WriteRows(%s) error = %v", name, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, name := range names {
		got := read(t, w.Layout().Path("Base", name))
		if n := strings.Count(got, "\n"); n != 21 {
			t.Errorf("%s: lines = %d, want 21", name, n)
		}
	}
}

func TestWriter_RequiresNames(t *testing.T) {
	w := newWriter(t)
	if _, err := w.Open("", "gen_ann", Fresh); err == nil {
		t.Error("Open with empty scenario should fail")
	}
}
