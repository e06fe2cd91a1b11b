package schedule

// =============================================================================
// INPUT RECORDS - flat rows handed over by the store adapter
// =============================================================================

// Professional is the slice of a professional the availability layer needs.
type Professional struct {
	ID   string
	Name string
}

// Entry is one recurring weekly work-schedule row.
// Multiple entries per professional and day are independent candidate
// windows; they are not assumed disjoint and are never merged.
type Entry struct {
	ProfessionalID string
	Day            int // 0 = Sunday
	StartMin       int
	EndMin         int
	Active         bool
}

// Busy is one already-blocking appointment interval on a given date.
type Busy struct {
	ProfessionalID string
	StartMin       int
	EndMin         int
}

// Window is a half-open [StartMin, EndMin) availability window.
type Window struct {
	StartMin int
	EndMin   int
}

// =============================================================================
// SCHEDULE INDEX - per-professional windows for one day of week
// =============================================================================

// BuildWindows maps each professional to the work windows valid for the
// given day of week. Inactive and malformed entries are dropped. A
// professional absent from the result has no availability that day.
//
// Windows are kept distinct: a slot must fit entirely within ONE window,
// never span the gap between two.
func BuildWindows(entries []Entry, day int) map[string][]Window {
	windows := make(map[string][]Window)
	for _, e := range entries {
		if !e.Active || e.Day != day {
			continue
		}
		if e.StartMin >= e.EndMin {
			continue
		}
		windows[e.ProfessionalID] = append(windows[e.ProfessionalID], Window{
			StartMin: e.StartMin,
			EndMin:   e.EndMin,
		})
	}
	return windows
}

// =============================================================================
// CONFLICT INDEX - per-professional blocking intervals for one date
// =============================================================================

// BuildBusy maps each professional to the intervals a new slot must not
// overlap. The store adapter is responsible for restricting the input to
// blocking statuses (pending, confirmed).
func BuildBusy(blocking []Busy) map[string][]Window {
	busy := make(map[string][]Window)
	for _, b := range blocking {
		busy[b.ProfessionalID] = append(busy[b.ProfessionalID], Window{
			StartMin: b.StartMin,
			EndMin:   b.EndMin,
		})
	}
	return busy
}

// fits reports whether [start, start+duration) lies entirely inside one of
// the windows and overlaps none of the busy intervals.
func fits(start, duration int, windows, busy []Window) bool {
	end := start + duration

	contained := false
	for _, w := range windows {
		if w.StartMin <= start && end <= w.EndMin {
			contained = true
			break
		}
	}
	if !contained {
		return false
	}

	for _, b := range busy {
		if Overlaps(start, end, b.StartMin, b.EndMin) {
			return false
		}
	}
	return true
}
