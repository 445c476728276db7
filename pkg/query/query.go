// Package query defines the contract between solpivot and the simulation
// engine's query bridge.
//
// A bridge exposes result archives through sessions: a session is opened on
// one archive, answers any number of bounded property queries, and is closed
// by its owner. Implementations live in the httpbridge and grpcbridge
// subpackages. Sessions are owned by a single extraction unit and are never
// shared between goroutines.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HatiCode/solpivot/pkg/window"
)

// ErrMissingField is returned when a result record lacks a required field.
var ErrMissingField = errors.New("missing field")

// Period is the result granularity requested from the engine.
type Period string

const (
	Interval   Period = "Interval"
	Day        Period = "Day"
	Week       Period = "Week"
	Month      Period = "Month"
	Quarter    Period = "Quarter"
	FiscalYear Period = "FiscalYear"
)

// ParsePeriod converts a configuration string into a Period.
// Matching is case-insensitive and tolerates the "fiscal_year" spelling.
func ParsePeriod(s string) (Period, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	for _, p := range []Period{Interval, Day, Week, Month, Quarter, FiscalYear} {
		if strings.ToLower(string(p)) == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid period %q", s)
}

// Request describes one bounded property query.
type Request struct {
	Collection int
	Property   int
	Parent     string
	Child      string
	Period     Period

	// Window bounds the query in time. Nil asks for the whole horizon.
	Window *window.Window
}

// RawRow is one result record as the engine reports it.
type RawRow struct {
	Category  string
	Child     string
	Timestamp string
	Value     float64
}

// Result carries the rows of one query along with the records that could
// not be decoded into a RawRow.
type Result struct {
	Rows     []RawRow
	Rejected []error
}

// Session answers queries against one opened archive.
type Session interface {
	Query(ctx context.Context, req Request) (Result, error)
	Close() error
}

// Opener opens sessions on result archives.
type Opener interface {
	Open(ctx context.Context, archivePath string) (Session, error)
}
