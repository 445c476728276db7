// Package export converts consolidated dataset trees into XLSX workbooks,
// one workbook per scenario and one sheet per dataset.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/HatiCode/solpivot/pkg/dataset"
)

// Ext is the workbook file extension.
const Ext = ".xlsx"

const maxSheetName = 31

// text columns are kept as strings; everything else is written as a number when it parses.
var textColumns = map[string]bool{"category": true, "period_marker": true}

// Sheet is the outcome of exporting one dataset.
type Sheet struct {
	Dataset string
	Name    string
	Rows    int
	Skipped bool
	Reason  string
}

// Workbook is the outcome of exporting one scenario.
type Workbook struct {
	Scenario string
	Path     string
	Sheets   []Sheet
}

// Written returns the number of sheets in the workbook.
func (w Workbook) Written() int {
	n := 0
	for _, s := range w.Sheets {
		if !s.Skipped {
			n++
		}
	}
	return n
}

// Exporter writes workbooks.
type Exporter struct {
	// MaxRows is the sheet row limit, header included. Datasets above it are skipped.
	MaxRows int
	Logger  *slog.Logger
}

// New creates an Exporter with the spreadsheet format's row limit.
func New(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{MaxRows: excelize.TotalRows, Logger: logger}
}

// ExportTree exports every scenario under periodDir (laid out as
// <scenario>/outputs/<dataset>.csv) to outDir/<scenario>.xlsx.
func (x *Exporter) ExportTree(periodDir, outDir string) ([]Workbook, error) {
	entries, err := os.ReadDir(periodDir)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	var out []Workbook
	var errs []error
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		outputs := filepath.Join(periodDir, ent.Name(), "outputs")
		if info, err := os.Stat(outputs); err != nil || !info.IsDir() {
			continue
		}
		wb, err := x.ExportScenario(outputs, filepath.Join(outDir, ent.Name()+Ext))
		wb.Scenario = ent.Name()
		if err != nil {
			x.Logger.Error("export failed", "scenario", ent.Name(), "error", err)
			errs = append(errs, fmt.Errorf("scenario %s: %w", ent.Name(), err))
			continue
		}
		out = append(out, wb)
	}
	return out, errors.Join(errs...)
}

// ExportScenario writes every dataset in outputsDir to the workbook outFile.
// No file is written when there is no sheet to put in it.
func (x *Exporter) ExportScenario(outputsDir, outFile string) (Workbook, error) {
	wb := Workbook{Scenario: filepath.Base(filepath.Dir(outputsDir))}

	paths, err := filepath.Glob(filepath.Join(outputsDir, "*"+dataset.Ext))
	if err != nil {
		return wb, err
	}
	sort.Strings(paths)

	f := excelize.NewFile()
	defer f.Close()

	used := map[string]bool{}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), dataset.Ext)
		sheet := Sheet{Dataset: name}

		n, err := countLines(path)
		if err != nil {
			return wb, fmt.Errorf("dataset %s: %w", name, err)
		}
		if n > x.maxRows() {
			sheet.Skipped = true
			sheet.Reason = fmt.Sprintf("%d rows exceed the sheet limit of %d", n, x.maxRows())
			x.Logger.Warn("dataset too large for a sheet", "dataset", name, "rows", n, "limit", x.maxRows())
			wb.Sheets = append(wb.Sheets, sheet)
			continue
		}

		sheet.Name = sheetName(name, used)
		if wb.Written() == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return wb, err
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return wb, err
		}

		rows, err := writeSheet(f, sheet.Name, path)
		if err != nil {
			return wb, fmt.Errorf("dataset %s: %w", name, err)
		}
		sheet.Rows = rows
		wb.Sheets = append(wb.Sheets, sheet)
	}

	if wb.Written() == 0 {
		x.Logger.Warn("nothing to export", "dir", outputsDir)
		return wb, nil
	}
	if err := f.SaveAs(outFile); err != nil {
		return wb, fmt.Errorf("save %s: %w", outFile, err)
	}
	wb.Path = outFile
	x.Logger.Info("workbook written", "path", outFile, "sheets", wb.Written())
	return wb, nil
}

// writeSheet streams a CSV file into sheet and returns the data row count.
func writeSheet(f *excelize.File, sheet, path string) (int, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, err
	}

	r := csv.NewReader(bufio.NewReader(in))
	r.FieldsPerRecord = -1

	var header []string
	row := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		row++

		cells := make([]any, len(rec))
		for i, v := range rec {
			cells[i] = v
			if header == nil || (i < len(header) && textColumns[header[i]]) {
				continue
			}
			if num, err := strconv.ParseFloat(v, 64); err == nil {
				cells[i] = num
			}
		}
		if header == nil {
			header = rec
		}

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return 0, err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return 0, err
		}
	}
	if err := sw.Flush(); err != nil {
		return 0, err
	}
	if row == 0 {
		return 0, nil
	}
	return row - 1, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}

func (x *Exporter) maxRows() int {
	if x.MaxRows <= 0 {
		return excelize.TotalRows
	}
	return x.MaxRows
}

// sheetName makes a unique, valid sheet name from a dataset name.
func sheetName(name string, used map[string]bool) string {
	base := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	if len(base) > maxSheetName {
		base = base[:maxSheetName]
	}

	candidate := base
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := "~" + strconv.Itoa(i)
		cut := min(len(base), maxSheetName-len(suffix))
		candidate = base[:cut] + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
