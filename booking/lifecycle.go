/*
lifecycle.go - Create / Cancel / Complete, and their side effects

PURPOSE:

	Implements the appointment state machine. Each operation is an
	independent, stateless unit of work:

	  Create   - availability fast-fail, then conditional insert. The store's
	             exclusion check inside the insert is the real double-booking
	             guarantee; the engine's own check only gives a fast failure.
	  Cancel   - policy-gated (cancellation window), token-authorized,
	             CAS on status. Never touches payment state: refunds are
	             driven by the gateway, never guessed locally.
	  Settle   - records the full amount collected at the desk and marks
	             the appointment paid. Commission accrual waits for this;
	             the gateway charge is only the deposit.
	  Complete - CAS on status, then per-recipe stock consumption. A product
	             with insufficient stock is skipped, not fatal. Every
	             successful decrement writes an inventory movement linked to
	             the appointment.

CONCURRENCY:

	Two concurrent Creates for overlapping intervals: the conditional insert
	admits exactly one; the loser sees ErrSlotUnavailable. Two concurrent
	Completes: the status CAS admits exactly one, so stock is decremented
	and commission accrued at most once.

SEE ALSO:
  - schedule/engine.go: the availability queries Create consults
  - store/sqlite: the conditional write primitives
*/
package booking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/notify"
	"github.com/warp/booking-engine/schedule"
)

// DefaultCancellationWindow is how long before the start an appointment
// can still be cancelled.
const DefaultCancellationWindow = 2 * time.Hour

// Store is the write/read surface the lifecycle needs. The sqlite store
// implements it; tests may substitute their own.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*Business, error)
	GetProfessional(ctx context.Context, id string) (*Professional, error)
	GetService(ctx context.Context, id string) (*Service, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)

	// InsertAppointmentIfFree inserts the appointment unless a blocking
	// appointment for the same professional and date overlaps its interval.
	// A conflict is reported as ErrSlotUnavailable.
	InsertAppointmentIfFree(ctx context.Context, a *Appointment) error

	// UpdateAppointmentStatusIf applies the patch only when the current
	// status is one of expect. Returns false when the precondition fails.
	UpdateAppointmentStatusIf(ctx context.Context, id string, expect []Status, patch Patch) (bool, error)

	RecipeForService(ctx context.Context, serviceID string) ([]RecipeItem, error)
	GetProduct(ctx context.Context, id string) (*Product, error)

	// DecrementStockIfSufficient atomically decrements the product's stock
	// when at least qty is on hand. Reports the quantities around the change.
	DecrementStockIfSufficient(ctx context.Context, productID string, qty decimal.Decimal) (ok bool, before, after decimal.Decimal, err error)

	AppendInventoryMovement(ctx context.Context, mv InventoryMovement) error
}

// CommissionAccruer accrues the professional's commission for a completed,
// fully paid appointment. Implemented by the commission package.
type CommissionAccruer interface {
	AccrueForCompletion(ctx context.Context, appt *Appointment, svc *Service) error
}

// Lifecycle coordinates appointment transitions.
type Lifecycle struct {
	Store        Store
	Availability *schedule.Engine
	Mail         notify.Sender     // optional; nil disables notifications
	Commissions  CommissionAccruer // optional

	CancellationWindow time.Duration // DefaultCancellationWindow when zero
	Now                func() time.Time
	Location           *time.Location // for date+time -> instant; time.Local when nil
}

func NewLifecycle(store Store, availability *schedule.Engine) *Lifecycle {
	return &Lifecycle{
		Store:              store,
		Availability:       availability,
		CancellationWindow: DefaultCancellationWindow,
		Now:                time.Now,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInput is the booking request from the client-facing UI.
type CreateInput struct {
	BusinessID     string
	ProfessionalID string
	ServiceID      string
	Date           string // YYYY-MM-DD
	StartTime      string // HH:MM[:SS]
	ClientName     string
	ClientEmail    string
	ClientPhone    string
}

// Create books the slot [start, start+service.duration) as a pending
// appointment with a fresh cancel token. The availability check is a
// pre-filter; the store's conditional insert decides races.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	startMin, err := schedule.ParseTime(in.StartTime)
	if err != nil {
		return nil, err
	}
	if _, err := schedule.DayOfWeek(in.Date); err != nil {
		return nil, err
	}

	svc, err := l.Store.GetService(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if svc == nil || svc.BusinessID != in.BusinessID || !svc.Active {
		return nil, fmt.Errorf("service %s: %w", in.ServiceID, ErrNotFound)
	}

	pro, err := l.Store.GetProfessional(ctx, in.ProfessionalID)
	if err != nil {
		return nil, err
	}
	if pro == nil || pro.BusinessID != in.BusinessID || !pro.Active {
		return nil, fmt.Errorf("professional %s: %w", in.ProfessionalID, ErrNotFound)
	}

	// Fast-fail availability check. Not atomic with the insert below.
	free, err := l.Availability.ProfessionalsFor(ctx, in.BusinessID, in.Date, startMin, svc.DurationMin)
	if err != nil {
		return nil, err
	}
	available := false
	for _, p := range free {
		if p.ID == in.ProfessionalID {
			available = true
			break
		}
	}
	if !available {
		return nil, ErrSlotUnavailable
	}

	now := l.now()
	appt := &Appointment{
		ID:             uuid.NewString(),
		BusinessID:     in.BusinessID,
		ProfessionalID: in.ProfessionalID,
		ServiceID:      in.ServiceID,
		ClientName:     in.ClientName,
		ClientEmail:    in.ClientEmail,
		ClientPhone:    in.ClientPhone,
		Date:           in.Date,
		StartMin:       startMin,
		EndMin:         startMin + svc.DurationMin,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		PaymentAmount:  decimal.Zero,
		CancelToken:    uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := l.Store.InsertAppointmentIfFree(ctx, appt); err != nil {
		return nil, err
	}

	l.send(ctx, appt.ClientEmail,
		fmt.Sprintf("Appointment booked: %s", svc.Name),
		fmt.Sprintf("Your appointment with %s on %s at %s is reserved pending payment.",
			pro.Name, appt.Date, schedule.FormatTime(appt.StartMin)))

	return appt, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel cancels a blocking appointment, authorized by its cancel token.
// Allowed only while now <= start - CancellationWindow. Payment state is
// left untouched.
func (l *Lifecycle) Cancel(ctx context.Context, id, token, actor string) (*Appointment, error) {
	appt, err := l.Store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if token != appt.CancelToken {
		return nil, ErrInvalidCancelToken
	}
	if !appt.Status.Blocking() {
		return nil, &TransitionError{AppointmentID: id, From: appt.Status, Attempted: "cancel"}
	}

	startsAt, err := appt.StartAt(l.location())
	if err != nil {
		return nil, err
	}
	window := l.CancellationWindow
	if window == 0 {
		window = DefaultCancellationWindow
	}
	deadline := startsAt.Add(-window)
	now := l.now()
	if now.After(deadline) {
		return nil, &CancellationWindowError{AppointmentID: id, StartsAt: startsAt, Deadline: deadline}
	}

	cancelled := StatusCancelled
	ok, err := l.Store.UpdateAppointmentStatusIf(ctx, id, BlockingStatuses, Patch{
		Status:      &cancelled,
		CancelledAt: &now,
		CancelledBy: &actor,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, _ := l.Store.GetAppointment(ctx, id)
		from := appt.Status
		if current != nil {
			from = current.Status
		}
		return nil, &TransitionError{AppointmentID: id, From: from, Attempted: "cancel"}
	}

	appt.Status = StatusCancelled
	appt.CancelledAt = &now
	appt.CancelledBy = actor

	l.send(ctx, appt.ClientEmail,
		"Appointment cancelled",
		fmt.Sprintf("Your appointment on %s at %s was cancelled.", appt.Date, schedule.FormatTime(appt.StartMin)))

	return appt, nil
}

// =============================================================================
// SETTLE
// =============================================================================

// Settle records the final payment taken at the desk: the full amount the
// client actually paid, which may exceed the gateway deposit. It moves
// payment_status to paid and stamps PaidAt. Settling again overwrites the
// amount (a desk correction); a cancelled appointment cannot be settled.
//
// When the appointment is already completed, settlement triggers the
// commission accrual that completion skipped for lack of a full payment.
func (l *Lifecycle) Settle(ctx context.Context, id string, amount decimal.Decimal, actor string) (*Appointment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", amount, ErrInvalidPaymentAmount)
	}

	appt, err := l.Store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if appt.Status == StatusCancelled {
		return nil, &TransitionError{AppointmentID: id, From: appt.Status, Attempted: "settle"}
	}

	paid := PaymentPaid
	now := l.now()
	settleable := []Status{StatusPending, StatusConfirmed, StatusCompleted}
	ok, err := l.Store.UpdateAppointmentStatusIf(ctx, id, settleable, Patch{
		PaymentStatus: &paid,
		PaymentAmount: &amount,
		PaidAt:        &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &TransitionError{AppointmentID: id, From: appt.Status, Attempted: "settle"}
	}

	appt.PaymentStatus = PaymentPaid
	appt.PaymentAmount = amount
	appt.PaidAt = &now

	if appt.Status == StatusCompleted {
		l.accrueCommission(ctx, appt)
	}

	log.Printf("appointment %s settled for %s by %s", appt.ID, amount, actor)
	return appt, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete marks the appointment completed, consumes the service's recipe
// from stock, and accrues commission when the appointment is fully paid.
// Returns the products actually decremented; a product with insufficient
// stock is skipped and absent from the list.
//
// The status CAS is the idempotency guard: a second Complete observes the
// new status and fails with a TransitionError before any side effect runs.
func (l *Lifecycle) Complete(ctx context.Context, id, actor string) (*Appointment, []ConsumedProduct, error) {
	appt, err := l.Store.GetAppointment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if appt == nil {
		return nil, nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}

	completed := StatusCompleted
	ok, err := l.Store.UpdateAppointmentStatusIf(ctx, id, BlockingStatuses, Patch{Status: &completed})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		current, _ := l.Store.GetAppointment(ctx, id)
		from := appt.Status
		if current != nil {
			from = current.Status
		}
		return nil, nil, &TransitionError{AppointmentID: id, From: from, Attempted: "complete"}
	}
	appt.Status = StatusCompleted

	consumed, err := l.consumeRecipe(ctx, appt, actor)
	if err != nil {
		return appt, consumed, err
	}

	if appt.PaymentStatus == PaymentPaid {
		l.accrueCommission(ctx, appt)
	}

	return appt, consumed, nil
}

// accrueCommission runs the accrual for a fully paid appointment. The
// appointment state is already written; commission can be resynchronized
// later, so failures are logged, never returned.
func (l *Lifecycle) accrueCommission(ctx context.Context, appt *Appointment) {
	if l.Commissions == nil {
		return
	}
	svc, err := l.Store.GetService(ctx, appt.ServiceID)
	if err != nil || svc == nil {
		log.Printf("commission accrual for appointment %s: service %s unavailable: %v", appt.ID, appt.ServiceID, err)
		return
	}
	if err := l.Commissions.AccrueForCompletion(ctx, appt, svc); err != nil {
		log.Printf("commission accrual failed for appointment %s: %v", appt.ID, err)
	}
}

func (l *Lifecycle) consumeRecipe(ctx context.Context, appt *Appointment, actor string) ([]ConsumedProduct, error) {
	recipe, err := l.Store.RecipeForService(ctx, appt.ServiceID)
	if err != nil {
		return nil, err
	}
	if len(recipe) == 0 {
		return []ConsumedProduct{}, nil
	}

	pro, err := l.Store.GetProfessional(ctx, appt.ProfessionalID)
	if err != nil {
		return nil, err
	}
	proName := appt.ProfessionalID
	if pro != nil {
		proName = pro.Name
	}
	reason := fmt.Sprintf("service use by %s on %s %s, recorded by %s",
		proName, appt.Date, schedule.FormatTime(appt.StartMin), actor)

	consumed := []ConsumedProduct{}
	for _, item := range recipe {
		ok, before, after, err := l.Store.DecrementStockIfSufficient(ctx, item.ProductID, item.QuantityPerUse)
		if err != nil {
			return consumed, err
		}
		if !ok {
			// Insufficient stock: this product is skipped, the completion
			// itself still succeeds.
			log.Printf("skipping stock consumption for product %s (appointment %s): insufficient stock",
				item.ProductID, appt.ID)
			continue
		}

		mv := InventoryMovement{
			ID:             uuid.NewString(),
			ProductID:      item.ProductID,
			Type:           MovementOut,
			Quantity:       item.QuantityPerUse,
			QuantityBefore: before,
			QuantityAfter:  after,
			Reason:         reason,
			AppointmentID:  appt.ID,
			CreatedAt:      l.now(),
		}
		if err := l.Store.AppendInventoryMovement(ctx, mv); err != nil {
			return consumed, err
		}

		name := item.ProductID
		if p, err := l.Store.GetProduct(ctx, item.ProductID); err == nil && p != nil {
			name = p.Name
		}
		consumed = append(consumed, ConsumedProduct{
			ProductID: item.ProductID,
			Name:      name,
			Quantity:  item.QuantityPerUse,
			Remaining: after,
		})
	}
	return consumed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Lifecycle) location() *time.Location {
	if l.Location != nil {
		return l.Location
	}
	return time.Local
}

func (l *Lifecycle) send(ctx context.Context, to, subject, body string) {
	if l.Mail == nil || to == "" {
		return
	}
	if err := l.Mail.Send(ctx, notify.Message{To: to, Subject: subject, Body: body}); err != nil {
		log.Printf("notification to %s failed: %v", to, err)
	}
}
