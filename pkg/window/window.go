// Package window splits a simulation horizon into contiguous, end-inclusive
// query windows so that interval-resolution queries stay within the engine's
// per-query limits.
//
// All timestamps are naive wall-clock values. They are carried as time.Time in
// UTC so that calendar arithmetic never crosses a DST transition.
package window

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Step is the smallest time increment of interval-resolution results.
// A window ends one Step before the next window starts.
const Step = time.Hour

var (
	// ErrInvalidGranularity is returned for a chunk size outside the supported set.
	ErrInvalidGranularity = errors.New("invalid granularity")
	// ErrInvalidHorizon is returned when a horizon ends before it starts.
	ErrInvalidHorizon = errors.New("invalid horizon")
)

// Horizon is the [Start, End] range of timestamps observed in one result archive.
type Horizon struct {
	Start time.Time
	End   time.Time
}

// Validate reports whether Start <= End.
func (h Horizon) Validate() error {
	if h.End.Before(h.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidHorizon,
			h.End.Format(time.DateTime), h.Start.Format(time.DateTime))
	}
	return nil
}

func (h Horizon) String() string {
	return h.Start.Format(time.DateTime) + " .. " + h.End.Format(time.DateTime)
}

// Window is an end-inclusive sub-range of a Horizon.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return w.Start.Format(time.DateTime) + " .. " + w.End.Format(time.DateTime)
}

// Granularity is the calendar unit a horizon is chunked by.
type Granularity string

const (
	Yearly  Granularity = "yearly"
	Monthly Granularity = "monthly"
	Daily   Granularity = "daily"
)

// Granularities lists the supported chunk sizes, largest first.
func Granularities() []Granularity {
	return []Granularity{Yearly, Monthly, Daily}
}

// ParseGranularity converts a configuration string into a Granularity.
// Matching is case-insensitive.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if err := g.Validate(); err != nil {
		return "", err
	}
	return g, nil
}

// Validate reports whether g belongs to the supported set.
func (g Granularity) Validate() error {
	switch g {
	case Yearly, Monthly, Daily:
		return nil
	default:
		return fmt.Errorf("%w: %q (want yearly, monthly or daily)", ErrInvalidGranularity, string(g))
	}
}

// Plan returns the ordered windows covering h at granularity g.
//
// Window k starts at the k-th calendar boundary counted from h.Start and ends
// one Step before boundary k+1, with the last window clamped to h.End. Every
// boundary is computed from h.Start rather than from the previous boundary, so
// a horizon starting on the 31st keeps its day where the month allows and
// never skips a short month.
//
// The returned sequence holds no state between iterations and can be ranged
// over any number of times.
func Plan(h Horizon, g Granularity) (iter.Seq[Window], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	return func(yield func(Window) bool) {
		for k := 0; ; k++ {
			start := boundary(h.Start, g, k)
			if start.After(h.End) {
				return
			}
			end := boundary(h.Start, g, k+1).Add(-Step)
			if end.After(h.End) {
				end = h.End
			}
			if !yield(Window{Start: start, End: end}) {
				return
			}
		}
	}, nil
}

// Count returns the number of windows Plan yields for h and g.
func Count(h Horizon, g Granularity) (int, error) {
	seq, err := Plan(h, g)
	if err != nil {
		return 0, err
	}
	n := 0
	for range seq {
		n++
	}
	return n, nil
}

// boundary returns origin advanced by k units of g. The day of month is
// clamped to the length of the target month.
func boundary(origin time.Time, g Granularity, k int) time.Time {
	hh, mm, ss := origin.Clock()
	ns := origin.Nanosecond()
	y, m, d := origin.Date()

	switch g {
	case Yearly:
		y += k
	case Monthly:
		total := int(m) - 1 + k
		y += total / 12
		m = time.Month(total%12 + 1)
	default:
		return origin.AddDate(0, 0, k)
	}

	if last := daysIn(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, hh, mm, ss, ns, origin.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
