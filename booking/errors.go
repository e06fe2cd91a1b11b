package booking

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSlotUnavailable means the requested interval is no longer free.
	// Booking UIs should re-query availability and show "slot just taken",
	// not a generic failure. Storage-level conflict-constraint violations
	// on create surface as this error, never as raw store errors.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrCancellationWindowPassed means the appointment starts too soon to
	// be cancelled under the configured threshold.
	ErrCancellationWindowPassed = errors.New("cancellation window passed")

	// ErrInvalidTransition means the appointment's current status does not
	// admit the requested transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidCancelToken means the presented token does not match the
	// appointment's cancel token.
	ErrInvalidCancelToken = errors.New("invalid cancel token")

	// ErrInvalidPaymentAmount means a settlement amount is zero or
	// negative.
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")

	// ErrNotFound is returned when an appointment, business, professional,
	// or service does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError reports a rejected lifecycle transition.
type TransitionError struct {
	AppointmentID string
	From          Status
	Attempted     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appointment %s: cannot %s from status %s", e.AppointmentID, e.Attempted, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CancellationWindowError carries the timing details of a late cancellation.
type CancellationWindowError struct {
	AppointmentID string
	StartsAt      time.Time
	Deadline      time.Time
}

func (e *CancellationWindowError) Error() string {
	return fmt.Sprintf("appointment %s: cancellation deadline %s passed (starts %s)",
		e.AppointmentID, e.Deadline.Format(time.RFC3339), e.StartsAt.Format(time.RFC3339))
}

func (e *CancellationWindowError) Unwrap() error { return ErrCancellationWindowPassed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports whether the error should surface as an HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCancellationWindowPassed)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
