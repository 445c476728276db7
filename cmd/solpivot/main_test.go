package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// execute runs the command line args in a fresh working directory so that no
// stray solpivot.yaml is picked up.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := rootCMD()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeArchive(t *testing.T, dir, name string, datetimes ...string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name+".zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("Model " + name + " Solution.xml")
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	b.WriteString("<SolutionDataset>")
	for _, dt := range datetimes {
		b.WriteString("<t_period_0><datetime>" + dt + "</datetime></t_period_0>")
	}
	b.WriteString("</SolutionDataset>")
	w.Write([]byte(b.String()))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Count(string(b), "\n")
}

// fakeBridge answers every query with one row.
func fakeBridge(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var queries atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	})
	mux.HandleFunc("POST /v1/sessions/{id}/query", func(w http.ResponseWriter, r *http.Request) {
		queries.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]any{
			{"category_name": "Wind", "child_name": "WF1", "_date": "1/1/2030 1:00:00 AM", "value": 1.5},
		}})
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &queries
}

const header = "category,period_marker,year,month,day,hour,value\n"

func TestExtract_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeArchive(t, "in", "Base", "01/01/2030 00:00:00", "31/03/2030 23:00:00")
	srv, queries := fakeBridge(t)
	t.Setenv("SOLPIVOT_METRICS_TEXTFILE", filepath.Join(dir, "solpivot.prom"))

	out, err := execute(t, "extract",
		"--input-dir", "in",
		"--output-dir", "out",
		"--collection", "Generators",
		"--collection", "Batteries",
		"--bridge", srv.URL,
		"--journal", filepath.Join(dir, "journal.db"),
		"--parallel", "--workers", "2",
	)
	if err != nil {
		t.Fatalf("extract error = %v\n%s", err, out)
	}
	// Generators: 2 properties, 1 yearly window each; Batteries: 3 properties
	if got := queries.Load(); got != 5 {
		t.Errorf("queries = %d, want 5", got)
	}

	outputs := filepath.Join("out", "Interval", "Base", "outputs")
	gen, err := os.ReadFile(filepath.Join(outputs, "gen_ann.csv"))
	if err != nil {
		t.Fatalf("gen_ann.csv: %v", err)
	}
	want := header + "Wind,p1,2030,1,1,1,1.5\n" + "Wind,p1,2030,1,1,1,1.5\n"
	if string(gen) != want {
		t.Errorf("gen_ann.csv = %q, want %q (own row plus merged addendum)", gen, want)
	}
	if n := countLines(t, filepath.Join(outputs, "bat_load.csv")); n != 2 {
		t.Errorf("bat_load.csv lines = %d, want 2", n)
	}
	for _, gone := range []string{"gen_ann_append.csv", "cap_append.csv"} {
		if _, err := os.Stat(filepath.Join(outputs, gone)); !os.IsNotExist(err) {
			t.Errorf("%s should have been merged away", gone)
		}
	}

	prom, err := os.ReadFile(filepath.Join(dir, "solpivot.prom"))
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	for _, line := range []string{
		`solpivot_units_total{status="ok"} 2`,
		`solpivot_datasets_total{status="ok"} 5`,
		`solpivot_consolidations_total{outcome="merged"} 2`,
	} {
		if !strings.Contains(string(prom), line) {
			t.Errorf("textfile missing %q", line)
		}
	}

	report, err := execute(t, "report", "--journal", filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("report error = %v", err)
	}
	for _, s := range []string{"period   Interval, chunk yearly, 1 scenario(s), 5 record(s), 0 failed", "gen_ann", "bat_load"} {
		if !strings.Contains(report, s) {
			t.Errorf("report missing %q:\n%s", s, report)
		}
	}
}

func TestExtract_BridgeDownRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeArchive(t, "in", "Base", "01/01/2030 00:00:00")
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	out, err := execute(t, "extract", "--input-dir", "in", "--output-dir", "out",
		"--collection", "Emissions", "--bridge", srv.URL, "--error-log", "errors.txt")
	if err != nil {
		t.Fatalf("unit failures must not fail the command: %v", err)
	}
	if !strings.Contains(out, "some units failed") {
		t.Errorf("output missing failure warning:\n%s", out)
	}
	log, err := os.ReadFile("errors.txt")
	if err != nil {
		t.Fatalf("error log: %v", err)
	}
	if !strings.Contains(string(log), "open session failed: scenario=Base collection=108") {
		t.Errorf("error log = %s", log)
	}
}

func TestExtract_NoArchives(t *testing.T) {
	t.Chdir(t.TempDir())
	os.Mkdir("in", 0o755)

	out, err := execute(t, "extract", "--input-dir", "in")
	if err != nil {
		t.Fatalf("extract error = %v", err)
	}
	if !strings.Contains(out, "no scenario archives found") {
		t.Errorf("output = %s", out)
	}
}

func TestExtract_FatalConfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad period", []string{"extract", "--period", "hourly"}, "invalid configuration"},
		{"bad chunk", []string{"extract", "--chunk", "weekly"}, "invalid configuration"},
		{"unknown collection", []string{"extract", "--collection", "Lines"}, "unknown catalog key"},
		{"missing catalog", []string{"extract", "--catalog", "nope.yaml"}, "load catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestHorizonAndPlan(t *testing.T) {
	t.Chdir(t.TempDir())
	archive := writeArchive(t, "in", "Base", "01/01/2030 00:00:00", "bad", "31/03/2030 23:00:00")

	out, err := execute(t, "horizon", archive)
	if err != nil {
		t.Fatalf("horizon error = %v", err)
	}
	for _, s := range []string{"start   2030-01-01 00:00:00", "end     2030-03-31 23:00:00", "periods 2 (1 unparseable)"} {
		if !strings.Contains(out, s) {
			t.Errorf("horizon output missing %q:\n%s", s, out)
		}
	}

	out, err = execute(t, "plan", archive, "--chunk", "monthly")
	if err != nil {
		t.Fatalf("plan error = %v", err)
	}
	for _, s := range []string{"(monthly, 3 windows)", "   1  2030-01-01 00:00:00 .. 2030-01-31 23:00:00", "   3  2030-03-01 00:00:00 .. 2030-03-31 23:00:00"} {
		if !strings.Contains(out, s) {
			t.Errorf("plan output missing %q:\n%s", s, out)
		}
	}
	if strings.Contains(out, "   4  ") {
		t.Errorf("plan output has a fourth window:\n%s", out)
	}

	if _, err := execute(t, "horizon", filepath.Join("in", "missing.zip")); err == nil {
		t.Error("horizon on a missing archive should fail")
	}
}

func TestCatalog(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "catalog")
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}
	for _, s := range []string{"name: Generators", "name: gen_ann", "windowed: true"} {
		if !strings.Contains(out, s) {
			t.Errorf("catalog output missing %q:\n%s", s, out)
		}
	}

	writeFile(t, "enum.txt", "Generators = 1\nBatteries = 81\nStorages = 9 # not extracted\n")
	out, err = execute(t, "catalog", "--enum", "enum.txt")
	if err == nil || !strings.Contains(err.Error(), "1 collection id(s) differ") {
		t.Errorf("catalog --enum error = %v", err)
	}
	for _, s := range []string{"catalog has id 80", "not in catalog", "ok (2 datasets)"} {
		if !strings.Contains(out, s) {
			t.Errorf("catalog --enum output missing %q:\n%s", s, out)
		}
	}
}

func TestRenameAndConsolidate(t *testing.T) {
	t.Chdir(t.TempDir())
	outputs := filepath.Join("out", "Interval", "Base", "outputs")
	writeFile(t, filepath.Join(outputs, "collection_80_property_6.csv"), header+"B1,p1,2030,1,1,0,1\n")
	writeFile(t, filepath.Join(outputs, "collection_99_property_1.csv"), header)
	writeFile(t, filepath.Join(outputs, "gen_ann.csv"), header+"a,p1,2030,1,1,0,1\n")
	writeFile(t, filepath.Join(outputs, "gen_ann_apend.csv"), header+"b,p1,2030,1,1,0,2\n")

	out, err := execute(t, "rename", "--output-dir", "out")
	if err != nil {
		t.Fatalf("rename error = %v", err)
	}
	if !strings.Contains(out, "bat_load.csv") || !strings.Contains(out, "not in catalog") {
		t.Errorf("rename output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(outputs, "bat_load.csv")); err != nil {
		t.Errorf("bat_load.csv missing: %v", err)
	}

	out, err = execute(t, "consolidate", "--root", filepath.Join("out", "Interval"))
	if err != nil {
		t.Fatalf("consolidate error = %v", err)
	}
	if !strings.Contains(out, "merged") {
		t.Errorf("consolidate output:\n%s", out)
	}
	if n := countLines(t, filepath.Join(outputs, "gen_ann.csv")); n != 3 {
		t.Errorf("gen_ann.csv lines = %d, want 3", n)
	}
}

func TestExport(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, filepath.Join("out", "Interval", "Base", "outputs", "gen_ann.csv"), header+"a,p1,2030,1,1,0,1\n")

	out, err := execute(t, "export", "--output-dir", "out")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	book := filepath.Join("out", "xlsx", "Interval", "Base.xlsx")
	if !strings.Contains(out, "Base: 1 sheet(s)") {
		t.Errorf("export output:\n%s", out)
	}
	if _, err := os.Stat(book); err != nil {
		t.Errorf("workbook missing: %v", err)
	}
}

func TestPivot(t *testing.T) {
	t.Chdir(t.TempDir())
	outputs := filepath.Join("out", "Interval", "Base", "outputs")
	writeFile(t, filepath.Join(outputs, "gen_ann.csv"), header+"Wind,p1,2031,6,15,14,123.4\nWind,p1,2031,6,15,x,1\n")
	writeFile(t, filepath.Join(outputs, "cap_apend.csv"), header+"B1,p1,2030,1,1,0,1\n")

	out, err := execute(t, "pivot", "--output-dir", "out")
	if err != nil {
		t.Fatalf("pivot error = %v", err)
	}
	for _, s := range []string{"Base: 1 dataset(s)", "gen_ann: 1 record(s) not pivoted"} {
		if !strings.Contains(out, s) {
			t.Errorf("pivot output missing %q:\n%s", s, out)
		}
	}

	pivoted := filepath.Join("out", "runs", "Interval", "Base", "outputs")
	b, err := os.ReadFile(filepath.Join(pivoted, "gen_ann.csv"))
	if err != nil {
		t.Fatalf("pivoted gen_ann.csv: %v", err)
	}
	if string(b) != "Dim1,Dim2,Dim3,Dim4,Val\nWind,p14,h6,2031,123.4\n" {
		t.Errorf("pivoted gen_ann.csv = %q", b)
	}
	if _, err := os.Stat(filepath.Join(pivoted, "cap_apend.csv")); !os.IsNotExist(err) {
		t.Error("unmerged addendum should not be pivoted")
	}
}

func TestReport_NeedsSQLite(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := execute(t, "report"); err == nil || !strings.Contains(err.Error(), "sqlite journal") {
		t.Errorf("report error = %v", err)
	}
}

func TestRelay_RejectsGRPCUpstream(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := execute(t, "relay", "--transport", "grpc", "--bridge", "localhost:1"); err == nil {
		t.Error("relay over a grpc upstream should fail")
	}
}
