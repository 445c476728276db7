// Package consolidate merges addendum datasets into their primary dataset.
//
// An addendum is a dataset whose name ends with a reserved marker such as
// "_append": gen_ann_append.csv is the addendum of gen_ann.csv. A merge
// rewrites the primary as its own rows followed by the addendum's rows, then
// deletes the addendum, so a second pass over the same tree has nothing left
// to do. Addenda without a primary are reported and left untouched.
//
// ConsolidateWritten restricts a pass to the pairs one extraction run
// rewrote from scratch. A pair with either file left over from an earlier run
// is reported Stale and kept as is: its primary may already hold a previous
// merge of the same addendum.
package consolidate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMarkers are the addendum name suffixes recognised by default.
// "_apend" is a misspelling that older output trees still carry.
var DefaultMarkers = []string{"_append", "_apend"}

// ErrHeaderMismatch is returned when an addendum's header differs from its primary's.
var ErrHeaderMismatch = errors.New("header mismatch")

// Outcome is the result of consolidating one addendum.
type Outcome string

const (
	Merged   Outcome = "merged"
	Orphaned Outcome = "orphaned"
	Failed   Outcome = "failed"
	Stale    Outcome = "stale"
)

// Result describes one addendum.
type Result struct {
	Addendum string
	Primary  string
	Outcome  Outcome
	Rows     int
	Err      error
}

// Report lists the results of one pass, in walk order.
type Report struct {
	Results []Result
}

func (r Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Merged returns the number of addenda merged into their primary.
func (r Report) Merged() int { return r.count(Merged) }

// Orphaned returns the number of addenda without a primary.
func (r Report) Orphaned() int { return r.count(Orphaned) }

// Failed returns the number of merges that failed.
func (r Report) Failed() int { return r.count(Failed) }

// Stale returns the number of pairs skipped because a file predates the run.
func (r Report) Stale() int { return r.count(Stale) }

// Consolidator merges addenda. The zero value uses DefaultMarkers.
type Consolidator struct {
	Markers []string
	Logger  *slog.Logger
}

// New creates a Consolidator for markers, or DefaultMarkers when none are given.
func New(logger *slog.Logger, markers ...string) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{Markers: markers, Logger: logger}
}

// PrimaryName strips an addendum marker from a file name. ok is false when
// name is not an addendum.
func (c *Consolidator) PrimaryName(name string) (primary string, ok bool) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for _, m := range c.markers() {
		if m == "" {
			continue
		}
		if base, found := strings.CutSuffix(stem, m); found && base != "" {
			return base + ext, true
		}
	}
	return "", false
}

// Consolidate walks root and merges every addendum CSV it finds. A failing
// pair never stops the pass; only an unreadable root is returned as an error.
func (c *Consolidator) Consolidate(root string) (Report, error) {
	return c.consolidate(root, nil)
}

// ConsolidateWritten is Consolidate restricted to pairs whose primary and
// addendum both satisfy written. Other pairs are reported Stale.
func (c *Consolidator) ConsolidateWritten(root string, written func(path string) bool) (Report, error) {
	if written == nil {
		return Report{}, errors.New("consolidate: written filter is required")
	}
	return c.consolidate(root, written)
}

func (c *Consolidator) consolidate(root string, written func(path string) bool) (Report, error) {
	log := c.logger()
	var addenda []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		if _, ok := c.PrimaryName(d.Name()); ok {
			addenda = append(addenda, path)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("consolidate %s: %w", root, err)
	}

	var report Report
	for _, addendum := range addenda {
		name, _ := c.PrimaryName(filepath.Base(addendum))
		primary := filepath.Join(filepath.Dir(addendum), name)
		res := Result{Addendum: addendum, Primary: primary}

		if _, err := os.Stat(primary); errors.Is(err, fs.ErrNotExist) {
			res.Outcome = Orphaned
			log.Warn("orphaned addendum, primary missing", "addendum", addendum, "primary", primary)
			report.Results = append(report.Results, res)
			continue
		}

		if written != nil && (!written(primary) || !written(addendum)) {
			res.Outcome = Stale
			log.Warn("stale pair not merged, rerun the primary's collection",
				"addendum", addendum, "primary", primary)
			report.Results = append(report.Results, res)
			continue
		}

		rows, err := mergePair(primary, addendum)
		if err != nil {
			res.Outcome = Failed
			res.Err = err
			log.Error("consolidation failed", "addendum", addendum, "primary", primary, "error", err)
			report.Results = append(report.Results, res)
			continue
		}

		res.Outcome = Merged
		res.Rows = rows
		log.Info("merged addendum", "addendum", addendum, "primary", primary, "rows", rows)
		report.Results = append(report.Results, res)
	}

	return report, nil
}

// mergePair rewrites primary as primary ++ addendum body and removes addendum.
// The primary is replaced through a temp file in the same directory, so a
// failure before the rename leaves both files as they were.
func mergePair(primary, addendum string) (int, error) {
	a, err := os.Open(addendum)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	p, err := os.Open(primary)
	if err != nil {
		return 0, err
	}
	defer p.Close()

	ar := bufio.NewReader(a)
	aHeader, err := readLine(ar)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", addendum, err)
	}
	pr := bufio.NewReader(p)
	pHeader, err := readLine(pr)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", primary, err)
	}
	if len(pHeader) == 0 {
		// empty primary takes the addendum's header
		pHeader = aHeader
	} else if len(aHeader) > 0 && !bytes.Equal(trimEOL(pHeader), trimEOL(aHeader)) {
		return 0, fmt.Errorf("%w: %s vs %s", ErrHeaderMismatch, filepath.Base(primary), filepath.Base(addendum))
	}

	tmp, err := os.CreateTemp(filepath.Dir(primary), "."+filepath.Base(primary)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(pHeader); err != nil {
		cleanup()
		return 0, err
	}
	last, err := copyTrackLast(bw, pr)
	if last == 0 && len(pHeader) > 0 {
		last = pHeader[len(pHeader)-1]
	}
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("copy %s: %w", primary, err)
	}
	if last != 0 && last != '\n' {
		if err := bw.WriteByte('\n'); err != nil {
			cleanup()
			return 0, err
		}
	}

	cr := &lineCounter{r: ar}
	if _, err := io.Copy(bw, cr); err != nil {
		cleanup()
		return 0, fmt.Errorf("copy %s: %w", addendum, err)
	}
	rows := cr.lines
	if cr.last != 0 && cr.last != '\n' {
		rows++
		if err := bw.WriteByte('\n'); err != nil {
			cleanup()
			return 0, err
		}
	}

	if err := bw.Flush(); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}

	p.Close()
	if err := os.Rename(tmpName, primary); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("replace %s: %w", primary, err)
	}

	a.Close()
	if err := os.Remove(addendum); err != nil {
		return rows, fmt.Errorf("merged into %s but could not remove addendum: %w", primary, err)
	}
	return rows, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return line, nil
}

func trimEOL(b []byte) []byte {
	return bytes.TrimRight(b, "\r\n")
}

func copyTrackLast(w io.Writer, r io.Reader) (byte, error) {
	var last byte
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			last = buf[n-1]
			if _, werr := w.Write(buf[:n]); werr != nil {
				return last, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return last, err
		}
	}
}

type lineCounter struct {
	r     io.Reader
	lines int
	last  byte
}

func (c *lineCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.lines += bytes.Count(p[:n], []byte{'\n'})
		c.last = p[n-1]
	}
	return n, err
}

func (c *Consolidator) markers() []string {
	if len(c.Markers) == 0 {
		return DefaultMarkers
	}
	return c.Markers
}

func (c *Consolidator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
