/*
engine.go - The two public availability queries

PURPOSE:

	Composes the schedule index (work windows) and the conflict index
	(blocking appointments) to answer:
	  - ProfessionalsFor: who can take this exact slot?
	  - SlotsFor: which grid slots have at least one free professional?

DESIGN:

	Slot generation deliberately reuses the single-slot predicate (fits),
	so the two queries can never disagree about what counts as available.
	There is exactly one overlap rule in the system.

	The engine is read-only and stateless. It consumes flat rows through
	the Directory interface; the store adapter owns query shape (joins,
	status filters) so this package stays free of SQL concerns.

CONCURRENCY:

	Safe for concurrent use. Every call builds its indexes from scratch;
	nothing is cached or shared.

SEE ALSO:
  - index.go: window/busy construction and the fits predicate
  - store/sqlite: the Directory implementation
*/
package schedule

import (
	"context"
	"sort"
)

// DefaultGridStep is the slot grid step in minutes.
const DefaultGridStep = 30

// Directory is the narrow read surface the engine needs from the store.
type Directory interface {
	// ActiveProfessionals lists the active professionals of a business.
	ActiveProfessionals(ctx context.Context, businessID string) ([]Professional, error)

	// ScheduleEntries lists recurring work-schedule entries for the given
	// professionals and day of week (0 = Sunday). Inactive entries may be
	// included; the engine filters them.
	ScheduleEntries(ctx context.Context, professionalIDs []string, day int) ([]Entry, error)

	// BlockingIntervals lists the intervals of appointments that reserve
	// professional time (status pending or confirmed) on the given date.
	BlockingIntervals(ctx context.Context, businessID, date string, professionalIDs []string) ([]Busy, error)
}

// Engine answers availability queries for one tenant at a time.
type Engine struct {
	Directory Directory
	GridStep  int // minutes; DefaultGridStep when zero
}

func NewEngine(dir Directory) *Engine {
	return &Engine{Directory: dir, GridStep: DefaultGridStep}
}

// =============================================================================
// QUERY 1 - professionals free for an exact slot
// =============================================================================

// ProfessionalsFor returns the active professionals who can take the slot
// [startMin, startMin+durationMin) on the given date. An empty result is a
// valid answer, not an error.
func (e *Engine) ProfessionalsFor(ctx context.Context, businessID, date string, startMin, durationMin int) ([]Professional, error) {
	if durationMin <= 0 {
		return nil, ErrInvalidDuration
	}
	day, err := DayOfWeek(date)
	if err != nil {
		return nil, err
	}

	pros, windows, busy, err := e.load(ctx, businessID, date, day)
	if err != nil {
		return nil, err
	}

	free := []Professional{}
	for _, p := range pros {
		if fits(startMin, durationMin, windows[p.ID], busy[p.ID]) {
			free = append(free, p)
		}
	}
	return free, nil
}

// =============================================================================
// QUERY 2 - grid slots with at least one free professional
// =============================================================================

// SlotsFor returns the sorted grid starts (formatted HH:MM:SS) at which at
// least one professional can take a slot of durationMin minutes. The grid
// spans the envelope of all work windows that day, with the start rounded
// up and the end rounded down to the grid step. A business with no active
// professionals or no schedule that day yields an empty list.
func (e *Engine) SlotsFor(ctx context.Context, businessID, date string, durationMin int) ([]string, error) {
	if durationMin <= 0 {
		return nil, ErrInvalidDuration
	}
	day, err := DayOfWeek(date)
	if err != nil {
		return nil, err
	}

	pros, windows, busy, err := e.load(ctx, businessID, date, day)
	if err != nil {
		return nil, err
	}

	step := e.GridStep
	if step <= 0 {
		step = DefaultGridStep
	}

	// Envelope across every professional's windows.
	first, last := -1, -1
	for _, ws := range windows {
		for _, w := range ws {
			if first == -1 || w.StartMin < first {
				first = w.StartMin
			}
			if w.EndMin > last {
				last = w.EndMin
			}
		}
	}
	if first == -1 {
		return []string{}, nil
	}

	gridStart := ((first + step - 1) / step) * step
	gridEnd := (last / step) * step

	var starts []int
	for at := gridStart; at <= gridEnd; at += step {
		for _, p := range pros {
			if fits(at, durationMin, windows[p.ID], busy[p.ID]) {
				starts = append(starts, at)
				break
			}
		}
	}

	sort.Ints(starts)
	slots := make([]string, 0, len(starts))
	var prev int = -1
	for _, at := range starts {
		if at == prev {
			continue
		}
		prev = at
		slots = append(slots, FormatTime(at))
	}
	return slots, nil
}

func (e *Engine) load(ctx context.Context, businessID, date string, day int) ([]Professional, map[string][]Window, map[string][]Window, error) {
	pros, err := e.Directory.ActiveProfessionals(ctx, businessID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(pros) == 0 {
		return nil, nil, nil, nil
	}

	ids := make([]string, len(pros))
	for i, p := range pros {
		ids[i] = p.ID
	}

	entries, err := e.Directory.ScheduleEntries(ctx, ids, day)
	if err != nil {
		return nil, nil, nil, err
	}
	blocking, err := e.Directory.BlockingIntervals(ctx, businessID, date, ids)
	if err != nil {
		return nil, nil, nil, err
	}

	return pros, BuildWindows(entries, day), BuildBusy(blocking), nil
}
