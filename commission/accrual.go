/*
Package commission derives what a professional is owed for a completed,
fully paid appointment.

ACCRUAL RULE:

	base       = max(paid_amount, service.price)
	percentage = per-(professional, service) override, if present and in [0,100]
	           | professional's default percentage
	           | system default
	amount     = base * percentage / 100

UPSERT SEMANTICS:

	Commissions are unique per (appointment, professional). Recomputation
	upserts rather than duplicating, and a commission already paid out is
	never overwritten: historical payouts are not silently recomputed.

SEE ALSO:
  - booking/lifecycle.go: triggers accrual on completion
  - store/sqlite: the skip-if-paid upsert
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
)

// DefaultPercent is the system-wide fallback commission percentage.
var DefaultPercent = decimal.NewFromInt(10)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Commission is one accrued payout line, unique per (appointment, professional).
type Commission struct {
	ID             string
	BusinessID     string
	ProfessionalID string
	AppointmentID  string

	ServiceAmount decimal.Decimal // the base the percentage applies to
	Percentage    decimal.Decimal
	Amount        decimal.Decimal

	Status      Status
	GeneratedAt time.Time
	PaidAt      *time.Time
}

// Store is the persistence surface the accrual needs.
type Store interface {
	// CommissionOverride returns the per-(professional, service) percentage,
	// or nil when no override exists.
	CommissionOverride(ctx context.Context, professionalID, serviceID string) (*decimal.Decimal, error)

	GetProfessional(ctx context.Context, id string) (*booking.Professional, error)

	// UpsertCommission inserts or updates the commission keyed by
	// (appointment, professional). An existing row with status paid is left
	// untouched; applied reports whether the write happened.
	UpsertCommission(ctx context.Context, c Commission) (applied bool, err error)
}

// Accrual computes and persists commissions.
type Accrual struct {
	Store          Store
	DefaultPercent decimal.Decimal // DefaultPercent when zero
}

func NewAccrual(store Store) *Accrual {
	return &Accrual{Store: store, DefaultPercent: DefaultPercent}
}

// AccrueForCompletion satisfies booking.CommissionAccruer.
func (a *Accrual) AccrueForCompletion(ctx context.Context, appt *booking.Appointment, svc *booking.Service) error {
	_, err := a.Accrue(ctx, appt, svc)
	return err
}

// Accrue computes the commission for a completed appointment and upserts it.
// Returns the commission as computed; when an already-paid row blocked the
// write, the stored record wins and applied side effects are skipped.
func (a *Accrual) Accrue(ctx context.Context, appt *booking.Appointment, svc *booking.Service) (*Commission, error) {
	if appt.PaymentStatus != booking.PaymentPaid {
		return nil, fmt.Errorf("appointment %s: commission requires payment_status=paid, got %s",
			appt.ID, appt.PaymentStatus)
	}

	base := appt.PaymentAmount
	if svc.Price.GreaterThan(base) {
		base = svc.Price
	}

	pct, err := a.resolvePercent(ctx, appt.ProfessionalID, appt.ServiceID)
	if err != nil {
		return nil, err
	}

	c := Commission{
		ID:             uuid.NewString(),
		BusinessID:     appt.BusinessID,
		ProfessionalID: appt.ProfessionalID,
		AppointmentID:  appt.ID,
		ServiceAmount:  base,
		Percentage:     pct,
		Amount:         base.Mul(pct).Div(decimal.NewFromInt(100)).Round(2),
		Status:         StatusPending,
		GeneratedAt:    time.Now().UTC(),
	}

	if _, err := a.Store.UpsertCommission(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolvePercent applies the override chain: (professional, service) override
// when within [0,100], else the professional's default, else the system default.
func (a *Accrual) resolvePercent(ctx context.Context, professionalID, serviceID string) (decimal.Decimal, error) {
	hundred := decimal.NewFromInt(100)

	override, err := a.Store.CommissionOverride(ctx, professionalID, serviceID)
	if err != nil {
		return decimal.Zero, err
	}
	if override != nil && !override.IsNegative() && !override.GreaterThan(hundred) {
		return *override, nil
	}

	pro, err := a.Store.GetProfessional(ctx, professionalID)
	if err != nil {
		return decimal.Zero, err
	}
	if pro != nil && pro.CommissionPercent != nil &&
		!pro.CommissionPercent.IsNegative() && !pro.CommissionPercent.GreaterThan(hundred) {
		return *pro.CommissionPercent, nil
	}

	if a.DefaultPercent.IsZero() {
		return DefaultPercent, nil
	}
	return a.DefaultPercent, nil
}
