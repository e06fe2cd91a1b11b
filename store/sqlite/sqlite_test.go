package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveBusiness(ctx, booking.Business{ID: "biz-1", Name: "Corner Salon"}))
	require.NoError(t, store.SaveProfessional(ctx, booking.Professional{
		ID: "pro-1", BusinessID: "biz-1", Name: "Ana", Active: true,
	}))
	require.NoError(t, store.SaveService(ctx, booking.Service{
		ID: "svc-cut", BusinessID: "biz-1", Name: "Cut",
		DurationMin: 30, Price: decimal.RequireFromString("25.00"), Active: true,
	}))
	return store
}

func testAppointment(id string, startMin, endMin int, status booking.Status) *booking.Appointment {
	now := time.Now().UTC()
	return &booking.Appointment{
		ID:             id,
		BusinessID:     "biz-1",
		ProfessionalID: "pro-1",
		ServiceID:      "svc-cut",
		Date:           "2025-06-02",
		StartMin:       startMin,
		EndMin:         endMin,
		Status:         status,
		PaymentStatus:  booking.PaymentPending,
		PaymentAmount:  decimal.Zero,
		CancelToken:    "tok-" + id,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// =============================================================================
// CONDITIONAL INSERT TESTS
// =============================================================================

func TestInsertAppointmentIfFree_OverlapRejected(t *testing.T) {
	// GIVEN: A pending appointment 10:00-10:30
	// WHEN: Inserting overlapping and touching intervals
	// THEN: Overlaps fail with ErrSlotUnavailable; touching succeeds

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a1", 600, 630, booking.StatusPending)))

	err := store.InsertAppointmentIfFree(ctx, testAppointment("a2", 615, 645, booking.StatusPending))
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	err = store.InsertAppointmentIfFree(ctx, testAppointment("a3", 570, 700, booking.StatusPending))
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable, "containing interval must be rejected")

	assert.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a4", 630, 660, booking.StatusPending)))
	assert.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a5", 570, 600, booking.StatusPending)))
}

func TestInsertAppointmentIfFree_NonBlockingIgnored(t *testing.T) {
	// GIVEN: A cancelled appointment 10:00-10:30
	// WHEN: Inserting the same interval
	// THEN: Succeeds; only pending/confirmed block

	store := newTestStore(t)
	ctx := context.Background()

	cancelled := testAppointment("a1", 600, 630, booking.StatusCancelled)
	require.NoError(t, store.InsertAppointmentIfFree(ctx, cancelled))

	assert.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a2", 600, 630, booking.StatusPending)))
}

func TestInsertAppointmentIfFree_OtherProfessionalUnaffected(t *testing.T) {
	// GIVEN: pro-1 booked 10:00-10:30
	// WHEN: Booking pro-2 for the same interval
	// THEN: Succeeds; exclusion is per professional

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveProfessional(ctx, booking.Professional{
		ID: "pro-2", BusinessID: "biz-1", Name: "Bea", Active: true,
	}))

	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a1", 600, 630, booking.StatusPending)))

	other := testAppointment("a2", 600, 630, booking.StatusPending)
	other.ProfessionalID = "pro-2"
	assert.NoError(t, store.InsertAppointmentIfFree(ctx, other))
}

// =============================================================================
// STATUS CAS TESTS
// =============================================================================

func TestUpdateAppointmentStatusIf_PreconditionEnforced(t *testing.T) {
	// GIVEN: A pending appointment
	// WHEN: Transitioning with matching and non-matching preconditions
	// THEN: Only the matching precondition writes

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a1", 600, 630, booking.StatusPending)))

	confirmed := booking.StatusConfirmed
	ok, err := store.UpdateAppointmentStatusIf(ctx, "a1", []booking.Status{booking.StatusCancelled}, booking.Patch{Status: &confirmed})
	require.NoError(t, err)
	assert.False(t, ok, "wrong precondition must not write")

	ok, err = store.UpdateAppointmentStatusIf(ctx, "a1", booking.BlockingStatuses, booking.Patch{Status: &confirmed})
	require.NoError(t, err)
	assert.True(t, ok)

	appt, err := store.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, appt.Status)
}

func TestUpdateAppointmentStatusIf_PatchesPaymentFields(t *testing.T) {
	// GIVEN: A pending appointment
	// WHEN: Patching gateway payment fields
	// THEN: All patched fields round-trip; untouched fields survive

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a1", 600, 630, booking.StatusPending)))

	paidAt := time.Date(2025, time.June, 1, 15, 0, 0, 0, time.UTC)
	confirmed := booking.StatusConfirmed
	partial := booking.PaymentPartial
	amount := decimal.RequireFromString("25.50")
	payID := "pay-9"
	gwStatus := "approved"

	ok, err := store.UpdateAppointmentStatusIf(ctx, "a1", booking.BlockingStatuses, booking.Patch{
		Status:           &confirmed,
		PaymentStatus:    &partial,
		PaymentAmount:    &amount,
		GatewayPaymentID: &payID,
		GatewayStatus:    &gwStatus,
		PaidAt:           &paidAt,
	})
	require.NoError(t, err)
	require.True(t, ok)

	appt, err := store.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentPartial, appt.PaymentStatus)
	assert.True(t, appt.PaymentAmount.Equal(amount))
	assert.Equal(t, "pay-9", appt.GatewayPaymentID)
	assert.Equal(t, "approved", appt.GatewayStatus)
	require.NotNil(t, appt.PaidAt)
	assert.True(t, appt.PaidAt.Equal(paidAt))
	assert.Equal(t, "tok-a1", appt.CancelToken, "unpatched fields must survive")
}

// =============================================================================
// DIRECTORY TESTS
// =============================================================================

func TestDirectory_BlockingIntervalsFilterStatus(t *testing.T) {
	// GIVEN: Pending, confirmed, cancelled, completed appointments on a date
	// WHEN: Listing blocking intervals
	// THEN: Only pending and confirmed are returned

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a1", 540, 570, booking.StatusPending)))
	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a2", 600, 630, booking.StatusConfirmed)))
	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a3", 660, 690, booking.StatusCancelled)))
	require.NoError(t, store.InsertAppointmentIfFree(ctx, testAppointment("a4", 720, 750, booking.StatusCompleted)))

	busy, err := store.BlockingIntervals(ctx, "biz-1", "2025-06-02", []string{"pro-1"})
	require.NoError(t, err)

	require.Len(t, busy, 2)
	starts := []int{busy[0].StartMin, busy[1].StartMin}
	assert.ElementsMatch(t, []int{540, 600}, starts)
}

func TestDirectory_ScheduleEntriesByDay(t *testing.T) {
	// GIVEN: Entries on Monday and Tuesday
	// WHEN: Listing for Monday
	// THEN: Only Monday rows

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveWorkScheduleEntry(ctx, booking.WorkScheduleEntry{
		ID: "ws-1", ProfessionalID: "pro-1", Day: 1, StartMin: 540, EndMin: 1200, Active: true,
	}))
	require.NoError(t, store.SaveWorkScheduleEntry(ctx, booking.WorkScheduleEntry{
		ID: "ws-2", ProfessionalID: "pro-1", Day: 2, StartMin: 540, EndMin: 1200, Active: true,
	}))

	entries, err := store.ScheduleEntries(ctx, []string{"pro-1"}, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 540, entries[0].StartMin)
}

func TestDirectory_ActiveProfessionalsOnly(t *testing.T) {
	// GIVEN: An active and an inactive professional
	// WHEN: Listing the directory
	// THEN: The inactive one is absent

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveProfessional(ctx, booking.Professional{
		ID: "pro-2", BusinessID: "biz-1", Name: "Bea", Active: false,
	}))

	pros, err := store.ActiveProfessionals(ctx, "biz-1")
	require.NoError(t, err)
	require.Len(t, pros, 1)
	assert.Equal(t, "pro-1", pros[0].ID)
}

// =============================================================================
// STOCK TESTS
// =============================================================================

func TestDecrementStockIfSufficient(t *testing.T) {
	// GIVEN: 10.5 units on hand
	// WHEN: Decrementing 10.5, then anything more
	// THEN: The first drains to zero; the second is refused untouched

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProduct(ctx, booking.Product{
		ID: "prod-1", BusinessID: "biz-1", Name: "Oil",
		Quantity: decimal.RequireFromString("10.5"), Unit: "ml",
	}))

	ok, before, after, err := store.DecrementStockIfSufficient(ctx, "prod-1", decimal.RequireFromString("10.5"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, before.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, after.IsZero())

	ok, _, _, err = store.DecrementStockIfSufficient(ctx, "prod-1", decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.True(t, p.Quantity.IsZero())
}

func TestDecrementStock_UnknownProduct(t *testing.T) {
	store := newTestStore(t)

	_, _, _, err := store.DecrementStockIfSufficient(context.Background(), "prod-ghost", decimal.NewFromInt(1))
	assert.True(t, booking.IsNotFound(err))
}

func TestAddStock_RecordsMovement(t *testing.T) {
	// GIVEN: A product with 5 units
	// WHEN: Restocking 20
	// THEN: Quantity is 25 and an 'in' movement exists

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProduct(ctx, booking.Product{
		ID: "prod-1", BusinessID: "biz-1", Name: "Oil",
		Quantity: decimal.NewFromInt(5), Unit: "ml",
	}))

	require.NoError(t, store.AddStock(ctx, "prod-1", decimal.NewFromInt(20), "mv-1", "weekly delivery"))

	p, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(25)))

	movements, err := store.ListMovements(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, booking.MovementIn, movements[0].Type)
	assert.Equal(t, "weekly delivery", movements[0].Reason)
	assert.True(t, movements[0].QuantityBefore.Equal(decimal.NewFromInt(5)))
	assert.True(t, movements[0].QuantityAfter.Equal(decimal.NewFromInt(25)))
}

func TestSaveProduct_UpsertKeepsQuantity(t *testing.T) {
	// GIVEN: A product whose stock was decremented
	// WHEN: Re-saving the product metadata
	// THEN: The live quantity is not reset

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProduct(ctx, booking.Product{
		ID: "prod-1", BusinessID: "biz-1", Name: "Oil",
		Quantity: decimal.NewFromInt(100), Unit: "ml",
	}))
	_, _, _, err := store.DecrementStockIfSufficient(ctx, "prod-1", decimal.NewFromInt(30))
	require.NoError(t, err)

	require.NoError(t, store.SaveProduct(ctx, booking.Product{
		ID: "prod-1", BusinessID: "biz-1", Name: "Argan Oil",
		Quantity: decimal.NewFromInt(100), Unit: "ml",
	}))

	p, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "Argan Oil", p.Name)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(70)), "quantity = %s", p.Quantity)
}

// =============================================================================
// CATALOG ROUND-TRIP TESTS
// =============================================================================

func TestProfessional_NullableCommissionPercent(t *testing.T) {
	// GIVEN: Professionals with and without a default percentage
	// WHEN: Reading them back
	// THEN: nil stays nil and values round-trip

	store := newTestStore(t)
	ctx := context.Background()

	pct := decimal.RequireFromString("22.5")
	require.NoError(t, store.SaveProfessional(ctx, booking.Professional{
		ID: "pro-2", BusinessID: "biz-1", Name: "Bea", Active: true, CommissionPercent: &pct,
	}))

	p1, err := store.GetProfessional(ctx, "pro-1")
	require.NoError(t, err)
	assert.Nil(t, p1.CommissionPercent)

	p2, err := store.GetProfessional(ctx, "pro-2")
	require.NoError(t, err)
	require.NotNil(t, p2.CommissionPercent)
	assert.True(t, p2.CommissionPercent.Equal(pct))
}

func TestGetAppointment_MissingIsNil(t *testing.T) {
	store := newTestStore(t)

	appt, err := store.GetAppointment(context.Background(), "appt-ghost")
	require.NoError(t, err)
	assert.Nil(t, appt)
}
