package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"time"

	"github.com/HatiCode/solpivot/pkg/catalog"
	"github.com/HatiCode/solpivot/pkg/dataset"
	"github.com/HatiCode/solpivot/pkg/errlog"
	"github.com/HatiCode/solpivot/pkg/horizon"
	"github.com/HatiCode/solpivot/pkg/journal"
	"github.com/HatiCode/solpivot/pkg/normalize"
	"github.com/HatiCode/solpivot/pkg/query"
	"github.com/HatiCode/solpivot/pkg/window"
)

// runUnit extracts every property of one collection from one scenario.
func (e *Extractor) runUnit(ctx context.Context, runID string, u unit) {
	start := e.now()
	current := &UnitError{Scenario: u.scenario.Name, Collection: u.collection.ID}

	defer func() {
		if r := recover(); r != nil {
			ue := *current
			ue.Op = "panic"
			ue.Err = fmt.Errorf("%v", r)
			e.fail(runID, &ue, debug.Stack(), start)
		}
	}()

	openCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	sess, err := e.deps.Opener.Open(openCtx, u.scenario.Archive)
	cancel()
	if err != nil {
		e.fail(runID, &UnitError{
			Scenario:   u.scenario.Name,
			Collection: u.collection.ID,
			Op:         "open session",
			Err:        err,
		}, nil, start)
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			e.logger.Warn("close session failed", "scenario", u.scenario.Name, "error", err)
		}
	}()

	windows, err := e.windows(u)
	if err != nil {
		e.fail(runID, &UnitError{
			Scenario:   u.scenario.Name,
			Collection: u.collection.ID,
			Op:         "read horizon",
			Err:        err,
		}, nil, start)
		return
	}

	status := journal.StatusOK
	for _, key := range u.keys {
		current.Property = key.Property
		current.Dataset = ""
		current.Window = nil
		if !e.runProperty(ctx, runID, u, sess, key, windows, current) {
			status = journal.StatusFailed
		}
	}
	e.deps.Metrics.RecordUnit(status)
}

// windows returns the plan for u, or nil when u is queried unbounded.
func (e *Extractor) windows(u unit) (iter.Seq[window.Window], error) {
	if e.cfg.Period != query.Interval || !e.deps.Catalog.Windowed(u.collection.ID) {
		return nil, nil
	}
	h, err := e.deps.Horizons.Read(u.scenario.Archive)
	if errors.Is(err, horizon.ErrNotFound) {
		e.logger.Warn("no horizon in archive, querying unbounded",
			"scenario", u.scenario.Name, "archive", u.scenario.Archive)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seq, err := window.Plan(h, e.cfg.Chunk)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("planned windows",
		"scenario", u.scenario.Name,
		"horizon", h.String(),
		"chunk", e.cfg.Chunk,
	)
	return seq, nil
}

// runProperty queries one property window by window into its dataset and
// reports whether it succeeded. The first failing window ends the property;
// rows of earlier windows stay on disk.
func (e *Extractor) runProperty(
	ctx context.Context,
	runID string,
	u unit,
	sess query.Session,
	key catalog.Key,
	windows iter.Seq[window.Window],
	current *UnitError,
) bool {
	start := e.now()
	rec := journal.UnitRecord{
		RunID:      runID,
		Scenario:   u.scenario.Name,
		Collection: key.Collection,
		Property:   key.Property,
		StartedAt:  start,
	}

	name, err := e.deps.Catalog.Dataset(key)
	if err != nil {
		e.failProperty(runID, current.with("resolve dataset", nil, err), rec, start)
		return false
	}
	rec.Dataset = name
	current.Dataset = name

	h, err := e.deps.Writer.Open(u.scenario.Name, name, dataset.Fresh)
	if err != nil {
		e.failProperty(runID, current.with("open dataset", nil, err), rec, start)
		return false
	}
	defer h.Close()

	req := query.Request{
		Collection: key.Collection,
		Property:   key.Property,
		Parent:     u.collection.Parent,
		Period:     e.cfg.Period,
	}

	step := func(w *window.Window) error {
		current.Window = w
		req.Window = w

		qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
		qstart := time.Now()
		res, err := sess.Query(qctx, req)
		cancel()
		e.deps.Metrics.ObserveQuery(time.Since(qstart).Seconds())
		if err != nil {
			return current.with("query", w, err)
		}

		rows, skipped := normalize.Batch(res.Rows)
		for _, err := range append(res.Rejected, skipped...) {
			e.logger.Debug("row dropped", "scenario", u.scenario.Name, "dataset", name, "error", err)
		}
		if err := h.WriteRows(rows); err != nil {
			return current.with("write", w, err)
		}

		dropped := len(skipped) + len(res.Rejected)
		rec.Windows++
		rec.Rows += len(rows)
		rec.Skipped += dropped
		e.deps.Metrics.RecordWindow()
		e.deps.Metrics.RecordRows(name, len(rows))
		e.deps.Metrics.RecordSkippedRows(dropped)
		return nil
	}

	if windows == nil {
		err = step(nil)
	} else {
		for w := range windows {
			if err = step(&w); err != nil {
				break
			}
		}
	}

	if err != nil {
		var ue *UnitError
		if !errors.As(err, &ue) {
			ue = current.with("query", current.Window, err)
		}
		e.failProperty(runID, ue, rec, start)
		return false
	}

	rec.Status = journal.StatusOK
	rec.Duration = e.now().Sub(start)
	e.record(rec)
	e.deps.Metrics.RecordDataset(journal.StatusOK)
	e.add(func(s *Summary) {
		s.Datasets++
		s.Windows += rec.Windows
		s.Rows += rec.Rows
		s.Skipped += rec.Skipped
	})

	e.logger.Info("dataset extracted",
		"scenario", u.scenario.Name,
		"collection", key.Collection,
		"property", key.Property,
		"dataset", name,
		"windows", rec.Windows,
		"rows", rec.Rows,
		"skipped_rows", rec.Skipped,
		"duration_ms", rec.Duration.Milliseconds(),
	)
	return true
}

// failProperty reports a property failure, keeping the counts reached so far.
func (e *Extractor) failProperty(runID string, ue *UnitError, rec journal.UnitRecord, start time.Time) {
	e.report(runID, ue, nil)
	e.deps.Metrics.RecordDataset(journal.StatusFailed)
	rec.Status = journal.StatusFailed
	rec.Error = ue.Error()
	rec.Duration = e.now().Sub(start)
	e.record(rec)
	e.add(func(s *Summary) {
		s.Windows += rec.Windows
		s.Rows += rec.Rows
		s.Skipped += rec.Skipped
	})
}

// fail reports a failure that ended the whole unit.
func (e *Extractor) fail(runID string, ue *UnitError, stack []byte, start time.Time) {
	e.report(runID, ue, stack)
	e.deps.Metrics.RecordUnit(journal.StatusFailed)
	e.record(journal.UnitRecord{
		RunID:      runID,
		Scenario:   ue.Scenario,
		Collection: ue.Collection,
		Property:   ue.Property,
		Dataset:    ue.Dataset,
		Status:     journal.StatusFailed,
		Error:      ue.Error(),
		StartedAt:  start,
		Duration:   e.now().Sub(start),
	})
}

// report writes ue to the log, the error log and the metrics.
func (e *Extractor) report(runID string, ue *UnitError, stack []byte) {
	e.logger.Error("unit failed",
		"scenario", ue.Scenario,
		"collection", ue.Collection,
		"property", ue.Property,
		"dataset", ue.Dataset,
		"op", ue.Op,
		"error", ue.Err,
	)
	e.deps.Metrics.RecordError("extract", ue.Op)
	e.add(func(s *Summary) { s.Failures++ })

	if err := e.deps.ErrLog.Append(errlog.Entry{
		RunID:   runID,
		Summary: ue.Summary(),
		Err:     ue,
		Stack:   stack,
	}); err != nil {
		e.logger.Error("error log append failed", "path", e.deps.ErrLog.Path(), "error", err)
	}
}

func (e *Extractor) record(rec journal.UnitRecord) {
	if e.deps.Journal == nil {
		return
	}
	if err := e.deps.Journal.RecordUnit(rec); err != nil {
		e.logger.Warn("journal record failed", "scenario", rec.Scenario, "dataset", rec.Dataset, "error", err)
	}
}
