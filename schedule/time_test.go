package schedule_test

import (
	"errors"
	"testing"

	"github.com/warp/booking-engine/schedule"
)

// =============================================================================
// TIME PARSING TESTS
// =============================================================================

func TestParseTime_ValidFormats(t *testing.T) {
	// GIVEN: Well-formed HH:MM:SS and HH:MM strings
	// WHEN: Parsing them
	// THEN: Each yields the expected minutes since midnight

	cases := []struct {
		in   string
		want int
	}{
		{"00:00:00", 0},
		{"09:00:00", 540},
		{"09:30", 570},
		{"13:45:00", 825},
		{"23:59:59", 1439}, // seconds are validated then discarded
	}
	for _, c := range cases {
		got, err := schedule.ParseTime(c.in)
		if err != nil {
			t.Errorf("ParseTime(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseTime(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseTime_InvalidFormats(t *testing.T) {
	// GIVEN: Malformed or out-of-range time strings
	// WHEN: Parsing them
	// THEN: Each is rejected with ErrInvalidTimeFormat

	cases := []string{
		"",
		"9:00",     // hour must be two digits
		"24:00:00", // hour out of range
		"12:60:00", // minute out of range
		"12:00:60", // second out of range
		"12-00-00", // wrong separator
		"noon",
		"12:00:00:00",
	}
	for _, c := range cases {
		_, err := schedule.ParseTime(c)
		if err == nil {
			t.Errorf("ParseTime(%q): expected error, got none", c)
			continue
		}
		if !errors.Is(err, schedule.ErrInvalidTimeFormat) {
			t.Errorf("ParseTime(%q): error %v is not ErrInvalidTimeFormat", c, err)
		}
	}
}

func TestFormatTime_RoundTrip(t *testing.T) {
	// GIVEN: Minutes since midnight
	// WHEN: Formatting
	// THEN: Output is HH:MM:00 and parses back to the same value

	cases := []struct {
		in   int
		want string
	}{
		{0, "00:00:00"},
		{540, "09:00:00"},
		{570, "09:30:00"},
		{1170, "19:30:00"},
	}
	for _, c := range cases {
		got := schedule.FormatTime(c.in)
		if got != c.want {
			t.Errorf("FormatTime(%d) = %q, want %q", c.in, got, c.want)
		}
		back, err := schedule.ParseTime(got)
		if err != nil || back != c.in {
			t.Errorf("ParseTime(FormatTime(%d)) = %d, %v", c.in, back, err)
		}
	}
}

func TestDayOfWeek(t *testing.T) {
	// GIVEN: Calendar dates
	// WHEN: Computing the day of week
	// THEN: Sunday is 0, per time.Weekday

	cases := []struct {
		date string
		want int
	}{
		{"2025-06-01", 0}, // Sunday
		{"2025-06-02", 1}, // Monday
		{"2025-06-07", 6}, // Saturday
	}
	for _, c := range cases {
		got, err := schedule.DayOfWeek(c.date)
		if err != nil {
			t.Fatalf("DayOfWeek(%q): %v", c.date, err)
		}
		if got != c.want {
			t.Errorf("DayOfWeek(%q) = %d, want %d", c.date, got, c.want)
		}
	}

	if _, err := schedule.DayOfWeek("06/02/2025"); err == nil {
		t.Error("DayOfWeek with non-ISO date: expected error, got none")
	}
}

// =============================================================================
// OVERLAP TESTS
// =============================================================================

func TestOverlaps_HalfOpenSemantics(t *testing.T) {
	// GIVEN: Half-open intervals [start, end)
	// WHEN: Testing overlap
	// THEN: Back-to-back intervals don't overlap; any shared minute does

	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd int
		want                       bool
	}{
		{"disjoint", 540, 600, 660, 720, false},
		{"back-to-back", 540, 600, 600, 660, false},
		{"one minute shared", 540, 601, 600, 660, true},
		{"identical", 540, 600, 540, 600, true},
		{"contained", 540, 720, 600, 660, true},
		{"straddles start", 500, 560, 540, 600, true},
	}
	for _, c := range cases {
		got := schedule.Overlaps(c.aStart, c.aEnd, c.bStart, c.bEnd)
		if got != c.want {
			t.Errorf("%s: Overlaps(%d,%d,%d,%d) = %v, want %v",
				c.name, c.aStart, c.aEnd, c.bStart, c.bEnd, got, c.want)
		}
		// Overlap is symmetric
		if schedule.Overlaps(c.bStart, c.bEnd, c.aStart, c.aEnd) != got {
			t.Errorf("%s: overlap is not symmetric", c.name)
		}
	}
}
