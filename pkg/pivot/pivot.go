// Package pivot reshapes dataset files into the dimension layout read by
// downstream planning models. Every dataset record becomes
//
//	Dim1,Dim2,Dim3,Dim4,Val
//	<category>,p<hour>,h<month>,<year>,<value>
//
// written to <out>/<scenario>/outputs/<dataset>.csv.
package pivot

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/HatiCode/solpivot/pkg/dataset"
)

// Header is the column row of every pivoted file.
var Header = []string{"Dim1", "Dim2", "Dim3", "Dim4", "Val"}

// ErrBadRecord is returned for a dataset record that cannot be pivoted.
var ErrBadRecord = errors.New("bad dataset record")

// Columns locates the source fields in a dataset header.
type Columns struct {
	Category, Year, Month, Hour, Value int
}

// ColumnsOf finds the source fields in header. Column names are matched
// case-insensitively.
func ColumnsOf(header []string) (Columns, error) {
	idx := func(name string) int {
		return slices.IndexFunc(header, func(h string) bool {
			return strings.EqualFold(strings.TrimSpace(h), name)
		})
	}
	c := Columns{
		Category: idx("category"),
		Year:     idx("year"),
		Month:    idx("month"),
		Hour:     idx("hour"),
		Value:    idx("value"),
	}
	for name, i := range map[string]int{"category": c.Category, "year": c.Year, "month": c.Month, "hour": c.Hour, "value": c.Value} {
		if i < 0 {
			return Columns{}, fmt.Errorf("header has no %q column", name)
		}
	}
	return c, nil
}

// Record maps one dataset record to its pivoted record.
func Record(rec []string, c Columns) ([]string, error) {
	if n := max(c.Category, c.Year, c.Month, c.Hour, c.Value); len(rec) <= n {
		return nil, fmt.Errorf("%w: %d fields", ErrBadRecord, len(rec))
	}
	year, err := strconv.Atoi(strings.TrimSpace(rec[c.Year]))
	if err != nil {
		return nil, fmt.Errorf("%w: year %q", ErrBadRecord, rec[c.Year])
	}
	month, err := strconv.Atoi(strings.TrimSpace(rec[c.Month]))
	if err != nil || month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month %q", ErrBadRecord, rec[c.Month])
	}
	hour, err := strconv.Atoi(strings.TrimSpace(rec[c.Hour]))
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("%w: hour %q", ErrBadRecord, rec[c.Hour])
	}
	return []string{
		rec[c.Category],
		"p" + strconv.Itoa(hour),
		"h" + strconv.Itoa(month),
		strconv.Itoa(year),
		rec[c.Value],
	}, nil
}

// File is the outcome of pivoting one dataset.
type File struct {
	Dataset string
	Path    string
	Rows    int
	Skipped int
}

// Scenario is the outcome of pivoting one scenario.
type Scenario struct {
	Scenario string
	Dir      string
	Files    []File
}

// Pivoter reshapes dataset trees.
type Pivoter struct {
	// Exclude skips datasets by file name, e.g. unmerged addenda.
	Exclude func(name string) bool
	Logger  *slog.Logger
}

// New creates a Pivoter that pivots every dataset.
func New(logger *slog.Logger) *Pivoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pivoter{Logger: logger}
}

// PivotTree pivots every scenario under periodDir (laid out as
// <scenario>/outputs/<dataset>.csv) into outDir/<scenario>/outputs. A failing
// scenario does not stop the others; all failures are returned joined.
func (p *Pivoter) PivotTree(periodDir, outDir string) ([]Scenario, error) {
	entries, err := os.ReadDir(periodDir)
	if err != nil {
		return nil, fmt.Errorf("pivot: %w", err)
	}

	var out []Scenario
	var errs []error
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		outputs := filepath.Join(periodDir, ent.Name(), "outputs")
		if info, err := os.Stat(outputs); err != nil || !info.IsDir() {
			continue
		}
		sc, err := p.PivotScenario(outputs, filepath.Join(outDir, ent.Name(), "outputs"))
		if err != nil {
			p.logger().Error("pivot failed", "scenario", ent.Name(), "error", err)
			errs = append(errs, fmt.Errorf("scenario %s: %w", ent.Name(), err))
			continue
		}
		out = append(out, sc)
	}
	return out, errors.Join(errs...)
}

// PivotScenario pivots every dataset in outputsDir into destDir.
func (p *Pivoter) PivotScenario(outputsDir, destDir string) (Scenario, error) {
	sc := Scenario{Scenario: filepath.Base(filepath.Dir(outputsDir)), Dir: destDir}

	paths, err := filepath.Glob(filepath.Join(outputsDir, "*"+dataset.Ext))
	if err != nil {
		return sc, err
	}
	slices.Sort(paths)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return sc, err
	}

	for _, path := range paths {
		base := filepath.Base(path)
		if p.Exclude != nil && p.Exclude(base) {
			p.logger().Debug("dataset excluded from pivot", "path", path)
			continue
		}
		f, err := p.PivotFile(path, filepath.Join(destDir, base))
		if err != nil {
			return sc, fmt.Errorf("dataset %s: %w", base, err)
		}
		sc.Files = append(sc.Files, f)
	}
	p.logger().Info("scenario pivoted", "scenario", sc.Scenario, "dir", destDir, "datasets", len(sc.Files))
	return sc, nil
}

// PivotFile pivots one dataset file. Records that cannot be pivoted are
// logged and counted; the rest are written in order.
func (p *Pivoter) PivotFile(src, dst string) (File, error) {
	f := File{Dataset: strings.TrimSuffix(filepath.Base(src), dataset.Ext), Path: dst}

	in, err := os.Open(src)
	if err != nil {
		return f, err
	}
	defer in.Close()

	r := csv.NewReader(bufio.NewReader(in))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return f, fmt.Errorf("%s: empty dataset", src)
	}
	if err != nil {
		return f, err
	}
	cols, err := ColumnsOf(header)
	if err != nil {
		return f, fmt.Errorf("%s: %w", src, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return f, err
	}
	bw := bufio.NewWriter(out)
	w := csv.NewWriter(bw)
	if err := w.Write(Header); err != nil {
		out.Close()
		return f, err
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Close()
			return f, fmt.Errorf("read %s: %w", src, err)
		}
		row, err := Record(rec, cols)
		if err != nil {
			f.Skipped++
			p.logger().Warn("record not pivoted", "dataset", f.Dataset, "error", err)
			continue
		}
		if err := w.Write(row); err != nil {
			out.Close()
			return f, err
		}
		f.Rows++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return f, err
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return f, err
	}
	return f, out.Close()
}

func (p *Pivoter) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
