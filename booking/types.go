/*
Package booking drives one appointment through its lifecycle.

PURPOSE:

	Owns the appointment data model and the state machine governing it:

	  (none) --Create--> pending
	  pending --gateway approved--> confirmed            (payment: partial)
	  pending/confirmed --gateway refunded--> cancelled  (payment: refunded)
	  pending/confirmed --Cancel (inside window)--> cancelled
	  pending/confirmed --Complete--> completed          (+ inventory, commission)

KEY CONCEPTS IN THIS FILE (types.go):
  - Appointment: one booked interval, half-open [StartMin, EndMin), with a
    payment state driven by the gateway and an unguessable cancel token.
  - Blocking: an appointment with status pending or confirmed reserves its
    professional's time and must be counted by availability queries.
    Completed and cancelled appointments never block.
  - Recipe: the per-use product quantities a service consumes when the
    appointment is completed.

DESIGN PRINCIPLES:
 1. Closed enums: Status and PaymentStatus are tagged string types with
    an explicit transition check; transitions outside the table fail.
 2. Precision: prices, paid amounts, and stock quantities use
    decimal.Decimal, never float64.
 3. The store is the guarantee: the application-level availability check
    is a fast-fail; the conditional insert in the store is what actually
    prevents double booking.

SEE ALSO:
  - lifecycle.go: Create / Cancel / Complete
  - errors.go: the error taxonomy callers branch on
*/
package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS ENUMS - closed sets with an explicit transition table
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Blocking reports whether an appointment in this status reserves
// professional time.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether this status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// BlockingStatuses is the set availability and exclusion queries filter on.
var BlockingStatuses = []Status{StatusPending, StatusConfirmed}

// =============================================================================
// DOMAIN RECORDS
// =============================================================================

// Business is the tenant boundary. Effectively immutable for this engine.
type Business struct {
	ID                 string
	Name               string
	Email              string
	GatewayAccessToken string
	CreatedAt          time.Time
}

// Professional belongs to exactly one business. Inactive professionals are
// excluded from availability.
type Professional struct {
	ID                string
	BusinessID        string
	Name              string
	Email             string
	Active            bool
	CommissionPercent *decimal.Decimal // default percentage; nil = system default
	CreatedAt         time.Time
}

// WorkScheduleEntry is one recurring weekly window, day 0 = Sunday.
type WorkScheduleEntry struct {
	ID             string
	ProfessionalID string
	Day            int
	StartMin       int
	EndMin         int
	Active         bool
}

// Service defines the requested interval length and price for a booking.
type Service struct {
	ID          string
	BusinessID  string
	Name        string
	DurationMin int
	Price       decimal.Decimal
	Active      bool
}

// RecipeItem is one product a service consumes per use.
type RecipeItem struct {
	ServiceID      string
	ProductID      string
	QuantityPerUse decimal.Decimal
}

// Product tracks sellable stock. Quantity is mutated only through
// inventory movements.
type Product struct {
	ID               string
	BusinessID       string
	Name             string
	Quantity         decimal.Decimal
	Unit             string
	ReorderThreshold decimal.Decimal
}

// MovementType classifies an inventory movement.
type MovementType string

const (
	MovementIn     MovementType = "in"
	MovementOut    MovementType = "out"
	MovementAdjust MovementType = "adjust"
)

// InventoryMovement is an append-only audit record of a stock change.
// Never mutated or deleted.
type InventoryMovement struct {
	ID             string
	ProductID      string
	Type           MovementType
	Quantity       decimal.Decimal
	QuantityBefore decimal.Decimal
	QuantityAfter  decimal.Decimal
	Reason         string
	AppointmentID  string // empty when not appointment-driven
	CreatedAt      time.Time
}

// Appointment is one booked half-open interval [StartMin, EndMin) on Date.
type Appointment struct {
	ID             string
	BusinessID     string
	ProfessionalID string
	ServiceID      string

	ClientName  string
	ClientEmail string
	ClientPhone string

	Date     string // YYYY-MM-DD
	StartMin int
	EndMin   int

	Status        Status
	PaymentStatus PaymentStatus
	PaymentAmount decimal.Decimal

	// CancelToken authorizes cancellation without a login.
	CancelToken string

	// Gateway correlation, written only by the payment reconciler.
	GatewayPaymentID string
	GatewayStatus    string
	PaidAt           *time.Time

	CancelledAt *time.Time
	CancelledBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartAt returns the appointment's start as a wall-clock instant in loc.
func (a *Appointment) StartAt(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", a.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(a.StartMin) * time.Minute), nil
}

// Patch is a partial appointment update applied by conditional store
// writes. Nil fields are left untouched.
type Patch struct {
	Status           *Status
	PaymentStatus    *PaymentStatus
	PaymentAmount    *decimal.Decimal
	GatewayPaymentID *string
	GatewayStatus    *string
	PaidAt           *time.Time
	CancelledAt      *time.Time
	CancelledBy      *string
}

// ConsumedProduct reports one successful stock decrement during completion.
type ConsumedProduct struct {
	ProductID string
	Name      string
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
}
