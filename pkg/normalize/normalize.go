// Package normalize converts raw engine result rows into the canonical
// dataset row, deriving calendar fields from the engine's 12-hour timestamps.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/solpivot/pkg/query"
)

// PeriodMarker is the fixed period column value of every output row.
const PeriodMarker = "p1"

// ErrRowSkipped marks a row that was dropped because it could not be normalized.
var ErrRowSkipped = errors.New("row skipped")

// Row is one normalized output row.
type Row struct {
	Category     string
	PeriodMarker string
	Year         int
	Month        int
	Day          int
	Hour         int
	Value        float64
}

// Normalize converts raw into a Row. A timestamp that does not match
// "M/D/YYYY h:mm:ss AM|PM" fails with an error wrapping ErrRowSkipped.
func Normalize(raw query.RawRow) (Row, error) {
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return Row{}, fmt.Errorf("%w: %w", ErrRowSkipped, err)
	}
	return Row{
		Category:     raw.Category,
		PeriodMarker: PeriodMarker,
		Year:         ts.Year,
		Month:        ts.Month,
		Day:          ts.Day,
		Hour:         ts.Hour,
		Value:        raw.Value,
	}, nil
}

// Batch normalizes raws in order. Rows that fail are left out of the
// returned slice and reported in skipped, one error per dropped row.
func Batch(raws []query.RawRow) (rows []Row, skipped []error) {
	rows = make([]Row, 0, len(raws))
	for i, raw := range raws {
		row, err := Normalize(raw)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("row %d (%s, %q): %w", i, raw.Category, raw.Timestamp, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped
}

// Timestamp holds the calendar fields of an engine timestamp with the hour
// already converted to the 24-hour clock.
type Timestamp struct {
	Year, Month, Day int
	Hour             int
	Minute, Second   int
}

// ParseTimestamp parses "<month>/<day>/<year> <hour>:<minute>:<second> <AM|PM>".
// The text must have exactly three whitespace-separated tokens. 12 AM maps to
// hour 0 and PM hours other than 12 gain 12.
func ParseTimestamp(text string) (Timestamp, error) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return Timestamp{}, fmt.Errorf("timestamp %q: want date, time and AM/PM", text)
	}

	date, err := splitInts(fields[0], "/", 3)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: date: %w", text, err)
	}
	clock, err := splitInts(fields[1], ":", 3)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: time: %w", text, err)
	}

	ts := Timestamp{
		Month:  date[0],
		Day:    date[1],
		Year:   date[2],
		Hour:   clock[0],
		Minute: clock[1],
		Second: clock[2],
	}

	if ts.Month < 1 || ts.Month > 12 {
		return Timestamp{}, fmt.Errorf("timestamp %q: month %d out of range", text, ts.Month)
	}
	if ts.Day < 1 || ts.Day > daysIn(ts.Year, ts.Month) {
		return Timestamp{}, fmt.Errorf("timestamp %q: day %d out of range", text, ts.Day)
	}
	if ts.Hour < 1 || ts.Hour > 12 {
		return Timestamp{}, fmt.Errorf("timestamp %q: hour %d out of range for a 12-hour clock", text, ts.Hour)
	}
	if ts.Minute > 59 || ts.Second > 59 {
		return Timestamp{}, fmt.Errorf("timestamp %q: minute or second out of range", text)
	}

	hour, err := To24Hour(ts.Hour, fields[2])
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: %w", text, err)
	}
	ts.Hour = hour
	return ts, nil
}

// To24Hour converts a 12-hour clock reading to the 24-hour clock.
func To24Hour(hour int, meridiem string) (int, error) {
	switch strings.ToUpper(meridiem) {
	case "AM":
		if hour == 12 {
			return 0, nil
		}
		return hour, nil
	case "PM":
		if hour != 12 {
			return hour + 12, nil
		}
		return hour, nil
	default:
		return 0, fmt.Errorf("meridiem %q is neither AM nor PM", meridiem)
	}
}

// FormatTimestamp renders t in the engine's 12-hour layout.
func FormatTimestamp(t time.Time) string {
	return t.Format("1/2/2006 3:04:05 PM")
}

func splitInts(s, sep string, n int) ([]int, error) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, fmt.Errorf("%q: want %d parts separated by %q", s, n, sep)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%q: part %d is not a number", s, i+1)
		}
		out[i] = v
	}
	return out, nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
