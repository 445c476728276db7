// Package journal records extraction runs and the outcome of every unit of
// work inside them. The in-memory store backs the live progress endpoint; the
// SQLite store keeps history across runs for the report command.
package journal

import (
	"errors"
	"time"
)

// ErrUnknownRun is returned when a run id has not been started.
var ErrUnknownRun = errors.New("unknown run")

// Status of a unit record.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one invocation of the extractor.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Period     string
	Chunk      string
	Scenarios  int
	Units      int
	Failed     int
}

// Finished reports whether the run has been closed.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// UnitRecord is the outcome of one (scenario, collection, property) extraction.
// A unit that failed before any property ran has Property 0.
type UnitRecord struct {
	RunID      string
	Scenario   string
	Collection int
	Property   int
	Dataset    string
	Status     string
	Windows    int
	Rows       int
	Skipped    int
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Store persists runs and unit records.
type Store interface {
	StartRun(Run) error
	RecordUnit(UnitRecord) error
	FinishRun(id string, finishedAt time.Time) error
	// LatestRun returns the most recently started run with its units in
	// recording order. found is false when no run exists.
	LatestRun() (run Run, units []UnitRecord, found bool, err error)
	Close() error
}
