package schedule

import "errors"

// Sentinel errors for the availability layer. Use with errors.Is().
var (
	// ErrInvalidTimeFormat is returned for malformed HH:MM[:SS] or
	// YYYY-MM-DD input. Rejected before any store access.
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// ErrInvalidDuration is returned when a requested slot duration is
	// not a positive number of whole minutes.
	ErrInvalidDuration = errors.New("invalid duration")
)
