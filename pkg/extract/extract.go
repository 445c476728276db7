// Package extract runs extractions: for every scenario archive and every
// catalog collection it opens a bridge session, queries each mapped property
// (split by time window when the collection needs it), normalizes the rows and
// appends them to the property's dataset. Addendum datasets are consolidated
// once all units are done.
//
// A unit is one (scenario, collection) pair. Units are independent and may run
// in a bounded pool; properties and windows inside a unit run in order on the
// unit's own session. A failure anywhere inside a unit is written to the error
// log and the run moves on.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/solpivot/pkg/capacity"
	"github.com/HatiCode/solpivot/pkg/catalog"
	"github.com/HatiCode/solpivot/pkg/consolidate"
	"github.com/HatiCode/solpivot/pkg/dataset"
	"github.com/HatiCode/solpivot/pkg/errlog"
	"github.com/HatiCode/solpivot/pkg/journal"
	"github.com/HatiCode/solpivot/pkg/query"
	"github.com/HatiCode/solpivot/pkg/window"
)

// DefaultQueryTimeout bounds one bridge call when Config.QueryTimeout is zero.
const DefaultQueryTimeout = 30 * time.Minute

// Config parameterizes a run.
type Config struct {
	Period query.Period
	Chunk  window.Granularity

	// QueryTimeout bounds every bridge call (open and query).
	QueryTimeout time.Duration

	// Parallel runs units in a pool of Workers goroutines. Workers <= 0
	// sizes the pool from the host's cores.
	Parallel bool
	Workers  int
}

// HorizonSource reads the time horizon of a result archive.
type HorizonSource interface {
	Read(archivePath string) (window.Horizon, error)
}

// Consolidator merges addendum datasets under a root directory, limited to
// the files written reports as produced by the current run.
type Consolidator interface {
	ConsolidateWritten(root string, written func(path string) bool) (consolidate.Report, error)
}

// Deps are the collaborators of an Extractor. Journal, Consolidator and
// Metrics are optional.
type Deps struct {
	Opener       query.Opener
	Horizons     HorizonSource
	Catalog      *catalog.Catalog
	Writer       *dataset.Writer
	ErrLog       *errlog.Log
	Journal      journal.Store
	Consolidator Consolidator
	Metrics      Recorder
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Scenarios int
	// Units counts the (scenario, collection) units that ran.
	Units int
	// Cancelled counts the units never started because the context ended.
	Cancelled int
	// Datasets counts the properties extracted without failure.
	Datasets int
	// Failures counts the entries written to the error log.
	Failures int
	Windows  int
	Rows     int
	Skipped  int

	Consolidation consolidate.Report
	Duration      time.Duration
}

// Extractor orchestrates runs.
type Extractor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	summary Summary
}

// New validates cfg and deps and creates an Extractor.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Period == "" {
		return nil, errors.New("extract: period is required")
	}
	if err := cfg.Chunk.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if deps.Opener == nil || deps.Horizons == nil || deps.Catalog == nil || deps.Writer == nil || deps.ErrLog == nil {
		return nil, errors.New("extract: opener, horizons, catalog, writer and error log are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}

	return &Extractor{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}, nil
}

type unit struct {
	scenario   Scenario
	collection catalog.Collection
	keys       []catalog.Key
}

// Run extracts every collection in collections (all catalog collections when
// empty) from every scenario, then consolidates the output tree. Unit
// failures do not make Run fail; they are counted in the Summary and written
// to the error log. Cancelling ctx stops scheduling new units; units already
// running finish.
func (e *Extractor) Run(ctx context.Context, scenarios []Scenario, collections []int) (Summary, error) {
	start := e.now()

	cols, err := e.resolveCollections(collections)
	if err != nil {
		return Summary{}, err
	}

	runID := uuid.NewString()
	e.mu.Lock()
	e.summary = Summary{RunID: runID, Scenarios: len(scenarios)}
	e.mu.Unlock()

	if e.deps.Journal != nil {
		if err := e.deps.Journal.StartRun(journal.Run{
			ID:        runID,
			StartedAt: start,
			Period:    string(e.cfg.Period),
			Chunk:     string(e.cfg.Chunk),
			Scenarios: len(scenarios),
		}); err != nil {
			e.logger.Warn("journal start failed", "run_id", runID, "error", err)
		}
	}

	var units []unit
	for _, sc := range scenarios {
		for _, col := range cols {
			keys := e.deps.Catalog.KeysFor(col.ID)
			if len(keys) == 0 {
				continue
			}
			units = append(units, unit{scenario: sc, collection: col, keys: keys})
		}
	}

	workers := 1
	if e.cfg.Parallel {
		workers = e.cfg.Workers
		if workers <= 0 {
			workers = capacity.HostWorkers(capacity.DefaultPolicy())
		}
	}

	e.logger.Info("starting extraction",
		"run_id", runID,
		"scenarios", len(scenarios),
		"units", len(units),
		"period", e.cfg.Period,
		"chunk", e.cfg.Chunk,
		"workers", workers,
	)

	// running units finish even if ctx is cancelled
	unitCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(workers)
	scheduled := 0
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			e.runUnit(unitCtx, runID, u)
			return nil
		})
	}
	g.Wait()

	e.mu.Lock()
	e.summary.Units = scheduled
	e.summary.Cancelled = len(units) - scheduled
	e.mu.Unlock()

	cancelled := ctx.Err()
	if cancelled != nil {
		e.logger.Warn("extraction cancelled, skipping consolidation",
			"run_id", runID, "cancelled_units", len(units)-scheduled)
	} else if e.deps.Consolidator != nil {
		e.consolidate()
	}

	finished := e.now()
	if e.deps.Journal != nil {
		if err := e.deps.Journal.FinishRun(runID, finished); err != nil {
			e.logger.Warn("journal finish failed", "run_id", runID, "error", err)
		}
	}

	e.mu.Lock()
	e.summary.Duration = finished.Sub(start)
	sum := e.summary
	e.mu.Unlock()

	e.logger.Info("extraction complete",
		"run_id", runID,
		"units", sum.Units,
		"datasets", sum.Datasets,
		"failures", sum.Failures,
		"windows", sum.Windows,
		"rows", sum.Rows,
		"skipped_rows", sum.Skipped,
		"total_ms", sum.Duration.Milliseconds(),
	)
	return sum, cancelled
}

func (e *Extractor) resolveCollections(ids []int) ([]catalog.Collection, error) {
	if len(ids) == 0 {
		return e.deps.Catalog.Collections(), nil
	}
	cols := make([]catalog.Collection, 0, len(ids))
	for _, id := range ids {
		col, err := e.deps.Catalog.Collection(id)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// consolidate merges the addenda of the period tree whose primary and
// addendum were both rewritten by this run. Pairs left from earlier runs are
// reported stale.
func (e *Extractor) consolidate() {
	root := e.deps.Writer.Layout().PeriodDir()
	report, err := e.deps.Consolidator.ConsolidateWritten(root, e.deps.Writer.OpenedFresh)
	if err != nil {
		e.logger.Error("consolidation failed", "root", root, "error", err)
		e.deps.Metrics.RecordError("consolidate", "walk")
		return
	}
	for _, r := range report.Results {
		e.deps.Metrics.RecordConsolidation(string(r.Outcome))
	}
	e.logger.Info("consolidation complete",
		"root", root,
		"merged", report.Merged(),
		"orphaned", report.Orphaned(),
		"stale", report.Stale(),
		"failed", report.Failed(),
	)

	e.mu.Lock()
	e.summary.Consolidation = report
	e.mu.Unlock()
}

func (e *Extractor) add(fn func(s *Summary)) {
	e.mu.Lock()
	fn(&e.summary)
	e.mu.Unlock()
}
