package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	period      TEXT NOT NULL,
	chunk       TEXT NOT NULL,
	scenarios   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS units (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	scenario    TEXT NOT NULL,
	collection  INTEGER NOT NULL,
	property    INTEGER NOT NULL,
	dataset     TEXT NOT NULL,
	status      TEXT NOT NULL,
	windows     INTEGER NOT NULL,
	row_count   INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	error       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_units_run ON units(run_id, seq);
`

// SQLiteStore keeps runs in a SQLite database file. The schema is created on open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// one writer; workers record units concurrently
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// StartRun inserts r into the runs table.
func (s *SQLiteStore) StartRun(r Run) error {
	if r.ID == "" {
		return fmt.Errorf("journal: run id is required")
	}
	_, err := s.db.Exec(`INSERT INTO runs (id, started_at, period, chunk, scenarios) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixMilli(), r.Period, r.Chunk, r.Scenarios)
	if err != nil {
		return fmt.Errorf("journal: start run %s: %w", r.ID, err)
	}
	return nil
}

// RecordUnit inserts u into the units table.
func (s *SQLiteStore) RecordUnit(u UnitRecord) error {
	_, err := s.db.Exec(`INSERT INTO units
		(run_id, scenario, collection, property, dataset, status, windows, row_count, skipped, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.RunID, u.Scenario, u.Collection, u.Property, u.Dataset, u.Status,
		u.Windows, u.Rows, u.Skipped, u.Error, u.StartedAt.UnixMilli(), u.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("journal: record unit: %w", err)
	}
	return nil
}

// FinishRun stamps the finish time of run id.
func (s *SQLiteStore) FinishRun(id string, finishedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`, finishedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("journal: finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal: %w: %s", ErrUnknownRun, id)
	}
	return nil
}

// LatestRun returns the run with the latest start and its records.
func (s *SQLiteStore) LatestRun() (Run, []UnitRecord, bool, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT id, started_at, finished_at, period, chunk, scenarios
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).
		Scan(&r.ID, &started, &finished, &r.Period, &r.Chunk, &r.Scenarios)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, false, nil
	}
	if err != nil {
		return Run{}, nil, false, fmt.Errorf("journal: latest run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64)
	}

	rows, err := s.db.Query(`SELECT scenario, collection, property, dataset, status, windows, row_count, skipped, error, started_at, duration_ms
		FROM units WHERE run_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return Run{}, nil, false, fmt.Errorf("journal: units of %s: %w", r.ID, err)
	}
	defer rows.Close()

	var units []UnitRecord
	for rows.Next() {
		u := UnitRecord{RunID: r.ID}
		var startedAt, durMS int64
		if err := rows.Scan(&u.Scenario, &u.Collection, &u.Property, &u.Dataset, &u.Status,
			&u.Windows, &u.Rows, &u.Skipped, &u.Error, &startedAt, &durMS); err != nil {
			return Run{}, nil, false, fmt.Errorf("journal: scan unit: %w", err)
		}
		u.StartedAt = time.UnixMilli(startedAt)
		u.Duration = time.Duration(durMS) * time.Millisecond
		r.Units++
		if u.Status == StatusFailed {
			r.Failed++
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return Run{}, nil, false, fmt.Errorf("journal: units of %s: %w", r.ID, err)
	}
	return r, units, true, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
