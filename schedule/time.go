/*
Package schedule computes who can be booked, and when.

PURPOSE:

	This package contains the pure time arithmetic and availability logic
	for the booking engine. Given a tenant's professionals, their recurring
	weekly work windows, and the appointments already blocking their time,
	it answers two questions:
	  1. Which professionals are free for an exact slot?
	  2. Which slots on a fixed grid have at least one free professional?

KEY CONCEPTS IN THIS FILE (time.go):
  - Minutes-since-midnight: the only time representation the engine uses.
    "09:30" parses to 570. All durations are whole minutes.
  - Half-open intervals: [start, end). Two intervals that only touch at a
    boundary do NOT overlap, so a 09:00-09:30 appointment never blocks a
    09:30 slot.
  - Day of week: 0 = Sunday, matching Go's time.Weekday. The recurring
    work-schedule entries use the same convention, which is an invariant
    the rest of the engine depends on.

DESIGN PRINCIPLES:
 1. Purity: no store access, no clocks. Everything here is a function of
    its arguments, which makes the overlap rule trivially testable.
 2. One overlap rule: Overlaps() is the single definition of "conflict"
    in the whole system. Both availability queries and the store's
    exclusion constraint mirror its half-open semantics.

SEE ALSO:
  - index.go: builds per-professional windows and busy intervals
  - engine.go: the two public availability queries
*/
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// TIME PARSING - HH:MM[:SS] <-> minutes since midnight
// =============================================================================

// ParseTime parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are accepted for compatibility with stored values but must be
// within range; sub-minute precision is out of scope and truncated.
func ParseTime(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, &InvalidTimeError{Value: s}
	}

	fields := make([]int, len(parts))
	for i, p := range parts {
		if len(p) != 2 {
			return 0, &InvalidTimeError{Value: s}
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, &InvalidTimeError{Value: s}
		}
		fields[i] = v
	}

	h, m := fields[0], fields[1]
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &InvalidTimeError{Value: s}
	}
	if len(fields) == 3 && (fields[2] < 0 || fields[2] > 59) {
		return 0, &InvalidTimeError{Value: s}
	}
	return h*60 + m, nil
}

// FormatTime renders minutes since midnight as "HH:MM:SS".
func FormatTime(minutes int) string {
	return fmt.Sprintf("%02d:%02d:00", minutes/60, minutes%60)
}

// =============================================================================
// CALENDAR
// =============================================================================

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// DayOfWeek returns the day of week for a calendar date, 0 = Sunday.
func DayOfWeek(date string) (int, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, &InvalidTimeError{Value: date}
	}
	return int(t.Weekday()), nil
}

// =============================================================================
// INTERVAL OVERLAP - the one conflict rule in the system
// =============================================================================

// Overlaps reports whether two half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Touching boundaries do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// InvalidTimeError reports a malformed time or date string.
type InvalidTimeError struct {
	Value string
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("invalid time format: %q", e.Value)
}

func (e *InvalidTimeError) Unwrap() error { return ErrInvalidTimeFormat }
