/*
Package payments reconciles gateway notifications with appointment state.

PURPOSE:

	The gateway notifies us that a payment changed; we never trust the
	notification body. The reconciler:

	  1. Verifies an HMAC signature over "appointmentID.businessID" with a
	     shared secret, constant-time. A guessed callback URL for one tenant
	     cannot mutate another tenant's appointment.
	  2. Looks up the tenant's gateway credential.
	  3. Fetches the payment's CURRENT status from the gateway by ID.
	  4. Checks the payment's external reference names our appointment.
	  5. Dedup: an already-recorded (payment ID, status) pair in a terminal
	     approved state is acknowledged without rewriting.
	  6. Maps gateway status to (status, payment_status):
	       approved              -> (confirmed, partial)
	       pending | in_process  -> (pending,   pending)
	       refunded|charged_back -> (cancelled, refunded)
	       anything else         -> (pending,   pending)
	  7. Applies the mapped state conditionally: completed and cancelled
	     appointments are never regressed; such notifications are
	     acknowledged as no-ops.

FAILURE SEMANTICS:

	Steps 1-4 are hard rejections. Only the gateway fetch (step 3) is
	transient and should be retried by the notification sender.

SEE ALSO:
  - gateway.go: the remote API client
  - booking/types.go: the status enums being mapped onto
*/
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/warp/booking-engine/booking"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidSignature means the notification's signature does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrPaymentMismatch means the fetched payment does not reference the
	// appointment named in the notification.
	ErrPaymentMismatch = errors.New("payment does not reference this appointment")

	// ErrMissingGatewayCredential means the business has no gateway
	// credential configured.
	ErrMissingGatewayCredential = errors.New("missing gateway credential")

	// ErrTransientGateway wraps gateway fetch failures. Retryable; every
	// other reconciliation error is terminal for the request.
	ErrTransientGateway = errors.New("transient gateway error")
)

// =============================================================================
// RECONCILER
// =============================================================================

// Store is the persistence surface the reconciler needs.
type Store interface {
	GetAppointment(ctx context.Context, id string) (*booking.Appointment, error)
	GetBusiness(ctx context.Context, id string) (*booking.Business, error)
	UpdateAppointmentStatusIf(ctx context.Context, id string, expect []booking.Status, patch booking.Patch) (bool, error)
}

// Notification is one inbound gateway callback, already parsed by the API
// layer. The correlation pair and signature ride on the callback URL; the
// payment ID comes from the body.
type Notification struct {
	AppointmentID string
	BusinessID    string
	Signature     string
	PaymentID     string
}

// Result reports what a reconciliation did.
type Result struct {
	Appointment *booking.Appointment
	Applied     bool // state was written
	Deduped     bool // already recorded, acknowledged without writing
}

// Reconciler applies gateway payment state to appointments, idempotently.
type Reconciler struct {
	Store   Store
	Gateway Gateway
	Secret  []byte // shared secret for callback signatures
}

func NewReconciler(store Store, gateway Gateway, secret []byte) *Reconciler {
	return &Reconciler{Store: store, Gateway: gateway, Secret: secret}
}

// Sign computes the callback signature for an appointment/business pair.
// Used when registering the callback URL with the gateway.
func (r *Reconciler) Sign(appointmentID, businessID string) string {
	mac := hmac.New(sha256.New, r.Secret)
	mac.Write([]byte(appointmentID + "." + businessID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Reconcile processes one notification. Safe to replay: duplicates and
// out-of-order redeliveries cannot double-apply state.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (*Result, error) {
	// 1. Origin check before anything touches the store's write path.
	if !hmac.Equal([]byte(r.Sign(n.AppointmentID, n.BusinessID)), []byte(n.Signature)) {
		return nil, ErrInvalidSignature
	}

	appt, err := r.Store.GetAppointment(ctx, n.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt == nil || appt.BusinessID != n.BusinessID {
		return nil, fmt.Errorf("appointment %s: %w", n.AppointmentID, booking.ErrNotFound)
	}

	// 2. Tenant credential.
	biz, err := r.Store.GetBusiness(ctx, n.BusinessID)
	if err != nil {
		return nil, err
	}
	if biz == nil {
		return nil, fmt.Errorf("business %s: %w", n.BusinessID, booking.ErrNotFound)
	}
	if biz.GatewayAccessToken == "" {
		return nil, ErrMissingGatewayCredential
	}

	// 3. The gateway is the source of truth for payment status.
	payment, err := r.Gateway.GetPayment(ctx, biz.GatewayAccessToken, n.PaymentID)
	if err != nil {
		return nil, err
	}

	// 4. The payment must name this appointment.
	if payment.ExternalReference != appt.ID {
		return nil, fmt.Errorf("payment %s references %q: %w",
			payment.ID, payment.ExternalReference, ErrPaymentMismatch)
	}

	// 5. Dedup: same payment, same terminal approved status, nothing to do.
	if appt.GatewayPaymentID == payment.ID && appt.GatewayStatus == payment.Status &&
		payment.Status == GatewayApproved {
		return &Result{Appointment: appt, Deduped: true}, nil
	}

	// 6. Map gateway status to the appointment state pair.
	status, payStatus := MapGatewayStatus(payment.Status)

	patch := booking.Patch{
		Status:           &status,
		PaymentStatus:    &payStatus,
		GatewayPaymentID: &payment.ID,
		GatewayStatus:    &payment.Status,
	}
	if payment.Status == GatewayApproved {
		patch.PaymentAmount = &payment.TransactionAmount
		patch.PaidAt = payment.DateApproved
	}

	// 7. Conditional apply: terminal states are never regressed.
	applied, err := r.Store.UpdateAppointmentStatusIf(ctx, appt.ID, booking.BlockingStatuses, patch)
	if err != nil {
		return nil, err
	}

	updated, err := r.Store.GetAppointment(ctx, appt.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Appointment: updated, Applied: applied, Deduped: !applied}, nil
}

// MapGatewayStatus maps a gateway payment status to the appointment's
// (status, payment_status) pair. Unknown statuses take the conservative
// default rather than failing the notification.
func MapGatewayStatus(gatewayStatus string) (booking.Status, booking.PaymentStatus) {
	switch gatewayStatus {
	case GatewayApproved:
		return booking.StatusConfirmed, booking.PaymentPartial
	case GatewayRefunded, GatewayChargedBack:
		return booking.StatusCancelled, booking.PaymentRefunded
	case GatewayPending, GatewayInProcess:
		return booking.StatusPending, booking.PaymentPending
	default:
		return booking.StatusPending, booking.PaymentPending
	}
}
