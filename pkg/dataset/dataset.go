// Package dataset writes normalized rows to per-scenario CSV datasets.
//
// Datasets live at <root>/<period>/<scenario>/outputs/<name>.csv. Within one
// run the first open of a dataset deletes whatever a previous run left there;
// later opens append. The header is written exactly once, by whichever write
// finds the file empty.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/HatiCode/solpivot/pkg/normalize"
)

// Header is the column row of every dataset file.
var Header = []string{"category", "period_marker", "year", "month", "day", "hour", "value"}

// Ext is the dataset file extension.
const Ext = ".csv"

// Layout maps (scenario, dataset) pairs to file paths.
type Layout struct {
	Root   string
	Period string
}

// PeriodDir is the directory holding every scenario of the layout's period.
func (l Layout) PeriodDir() string {
	return filepath.Join(l.Root, l.Period)
}

// OutputDir is the directory holding the datasets of one scenario.
func (l Layout) OutputDir(scenario string) string {
	return filepath.Join(l.Root, l.Period, scenario, "outputs")
}

// Path is the file path of one dataset.
func (l Layout) Path(scenario, name string) string {
	return filepath.Join(l.OutputDir(scenario), name+Ext)
}

// Mode selects how Open treats an existing file.
type Mode int

const (
	// Fresh deletes the existing file on the first open in a run and appends afterwards.
	Fresh Mode = iota
	// Append never deletes; rows are added to whatever the file holds.
	Append
)

// Writer owns the dataset files of one run. It is safe for concurrent use.
type Writer struct {
	layout Layout
	logger *slog.Logger

	mu     sync.Mutex
	opened map[string]*sync.Mutex
	fresh  map[string]bool
}

// NewWriter creates a Writer for one run over layout.
func NewWriter(layout Layout, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		layout: layout,
		logger: logger,
		opened: make(map[string]*sync.Mutex),
		fresh:  make(map[string]bool),
	}
}

// Layout returns the writer's layout.
func (w *Writer) Layout() Layout {
	return w.layout
}

// OpenedFresh reports whether path was first opened Fresh by this writer, so
// its content was produced entirely by the current run.
func (w *Writer) OpenedFresh(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fresh[filepath.Clean(path)]
}

// Handle appends rows to one dataset.
type Handle struct {
	path   string
	name   string
	lock   *sync.Mutex
	rows   int
	closed bool
}

// Open prepares the dataset name of scenario for writing. The file itself is
// created lazily by the first WriteRows.
func (w *Writer) Open(scenario, name string, mode Mode) (*Handle, error) {
	if scenario == "" || name == "" {
		return nil, errors.New("dataset: scenario and name are required")
	}
	path := w.layout.Path(scenario, name)

	w.mu.Lock()
	lock, seen := w.opened[path]
	if !seen {
		lock = &sync.Mutex{}
		w.opened[path] = lock
		w.fresh[path] = mode == Fresh
	}
	w.mu.Unlock()

	if !seen && mode == Fresh {
		lock.Lock()
		err := os.Remove(path)
		lock.Unlock()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("dataset %s: remove previous output: %w", path, err)
		}
		if err == nil {
			w.logger.Debug("removed previous dataset", "path", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}

	return &Handle{path: path, name: name, lock: lock}, nil
}

// Path returns the dataset file path.
func (h *Handle) Path() string { return h.path }

// Name returns the dataset name.
func (h *Handle) Name() string { return h.name }

// Rows returns the number of rows written through h.
func (h *Handle) Rows() int { return h.rows }

// WriteRows appends rows in order. The header goes first when the file is
// empty, even if rows is empty.
func (h *Handle) WriteRows(rows []normalize.Row) error {
	if h.closed {
		return fmt.Errorf("dataset %s: write after close", h.path)
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", h.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("dataset %s: %w", h.path, err)
	}

	bw := bufio.NewWriter(f)
	cw := csv.NewWriter(bw)

	if info.Size() == 0 {
		if err := cw.Write(Header); err != nil {
			f.Close()
			return fmt.Errorf("dataset %s: header: %w", h.path, err)
		}
	}
	record := make([]string, len(Header))
	for _, r := range rows {
		record[0] = r.Category
		record[1] = r.PeriodMarker
		record[2] = strconv.Itoa(r.Year)
		record[3] = strconv.Itoa(r.Month)
		record[4] = strconv.Itoa(r.Day)
		record[5] = strconv.Itoa(r.Hour)
		record[6] = strconv.FormatFloat(r.Value, 'f', -1, 64)
		if err := cw.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("dataset %s: %w", h.path, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("dataset %s: %w", h.path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("dataset %s: %w", h.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dataset %s: %w", h.path, err)
	}

	h.rows += len(rows)
	return nil
}

// Close ends writing through h. Rows already written stay on disk.
func (h *Handle) Close() error {
	h.closed = true
	return nil
}
