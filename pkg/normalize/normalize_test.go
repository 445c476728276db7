package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/HatiCode/solpivot/pkg/query"
)

func TestNormalize_AfternoonRow(t *testing.T) {
	raw := query.RawRow{Category: "Wind", Timestamp: "6/15/2031 2:00:00 PM", Value: 123.4}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := Row{Category: "Wind", PeriodMarker: "p1", Year: 2031, Month: 6, Day: 15, Hour: 14, Value: 123.4}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestTo24Hour(t *testing.T) {
	tests := []struct {
		hour     int
		meridiem string
		want     int
	}{
		{12, "AM", 0},
		{12, "PM", 12},
		{1, "PM", 13},
		{11, "AM", 11},
		{11, "PM", 23},
		{1, "AM", 1},
		{3, "pm", 15},
	}
	for _, tt := range tests {
		got, err := To24Hour(tt.hour, tt.meridiem)
		if err != nil {
			t.Errorf("To24Hour(%d, %s) error = %v", tt.hour, tt.meridiem, err)
			continue
		}
		if got != tt.want {
			t.Errorf("To24Hour(%d, %s) = %d, want %d", tt.hour, tt.meridiem, got, tt.want)
		}
	}

	if _, err := To24Hour(1, "XM"); err == nil {
		t.Error("To24Hour with bad meridiem should fail")
	}
}

func TestNormalize_Malformed(t *testing.T) {
	bad := []string{
		"",
		"6/15/2031 2:00:00",
		"6/15/2031 14:00:00 PM",
		"6/15/2031 0:00:00 AM",
		"13/15/2031 2:00:00 PM",
		"2/30/2031 2:00:00 PM",
		"6-15-2031 2:00:00 PM",
		"6/15/2031 2:00 PM",
		"6/15/2031 2:61:00 PM",
		"2031-06-15T14:00:00",
		"6/15/2031 2:00:00 PM UTC",
	}
	for _, ts := range bad {
		_, err := Normalize(query.RawRow{Category: "Wind", Timestamp: ts, Value: 1})
		if !errors.Is(err, ErrRowSkipped) {
			t.Errorf("Normalize(%q) error = %v, want ErrRowSkipped", ts, err)
		}
	}
}

func TestBatch_DropsBadRows(t *testing.T) {
	raws := []query.RawRow{
		{Category: "a", Timestamp: "1/1/2030 12:00:00 AM", Value: 1},
		{Category: "b", Timestamp: "garbage", Value: 2},
		{Category: "c", Timestamp: "1/1/2030 1:00:00 AM", Value: 3},
	}

	rows, skipped := Batch(raws)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(skipped))
	}
	if rows[0].Hour != 0 || rows[1].Hour != 1 {
		t.Errorf("hours = %d,%d, want 0,1", rows[0].Hour, rows[1].Hour)
	}
	if rows[1].Category != "c" {
		t.Errorf("order not preserved: %+v", rows)
	}
}

func TestFormatTimestamp_RoundTrip(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for h := range 48 {
		at := start.Add(time.Duration(h) * time.Hour)
		ts, err := ParseTimestamp(FormatTimestamp(at))
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) error = %v", FormatTimestamp(at), err)
		}
		if ts.Hour != at.Hour() || ts.Day != at.Day() {
			t.Errorf("round trip of %v = %+v", at, ts)
		}
	}
}
