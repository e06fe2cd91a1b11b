/*
handlers_test.go - HTTP-level tests for the API

Tests drive the full router with httptest, exercising the booking flow
end to end: availability, booking, webhook reconciliation, completion,
and the error-to-status mapping.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/commission"
	"github.com/warp/booking-engine/payments"
	"github.com/warp/booking-engine/schedule"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testOwnerKey = "owner-key-test"
	testMonday   = "2025-06-02" // a Monday
)

type fakeGateway struct {
	payments map[string]*payments.Payment
}

func (f *fakeGateway) GetPayment(_ context.Context, _ string, paymentID string) (*payments.Payment, error) {
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, &payments.GatewayError{PaymentID: paymentID, Cause: fmt.Errorf("no such payment")}
	}
	return p, nil
}

type testEnv struct {
	router  http.Handler
	handler *Handler
	gateway *fakeGateway
	store   *sqlite.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveBusiness(ctx, booking.Business{
		ID: "biz-1", Name: "Corner Salon", GatewayAccessToken: "tok-biz-1",
	}))
	require.NoError(t, store.SaveProfessional(ctx, booking.Professional{
		ID: "pro-1", BusinessID: "biz-1", Name: "Ana", Active: true,
	}))
	require.NoError(t, store.SaveWorkScheduleEntry(ctx, booking.WorkScheduleEntry{
		ID: "ws-1", ProfessionalID: "pro-1", Day: 1, StartMin: 540, EndMin: 1200, Active: true,
	}))
	require.NoError(t, store.SaveService(ctx, booking.Service{
		ID: "svc-cut", BusinessID: "biz-1", Name: "Haircut",
		DurationMin: 30, Price: decimal.NewFromInt(50), Active: true,
	}))

	availability := schedule.NewEngine(store)
	lifecycle := booking.NewLifecycle(store, availability)
	lifecycle.Location = time.UTC
	lifecycle.Now = func() time.Time {
		return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	}
	lifecycle.Commissions = commission.NewAccrual(store)

	gw := &fakeGateway{payments: map[string]*payments.Payment{}}
	reconciler := payments.NewReconciler(store, gw, []byte("webhook-secret"))

	handler := NewHandler(store, availability, lifecycle, reconciler)
	handler.OwnerKey = testOwnerKey

	return &testEnv{
		router:  NewRouter(handler),
		handler: handler,
		gateway: gw,
		store:   store,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, ownerKey bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ownerKey {
		req.Header.Set("X-API-Key", testOwnerKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func (e *testEnv) book(t *testing.T, startTime string) AppointmentDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		BusinessID:     "biz-1",
		ProfessionalID: "pro-1",
		ServiceID:      "svc-cut",
		Date:           testMonday,
		StartTime:      startTime,
		ClientName:     "Carla",
		ClientEmail:    "carla@client.test",
	}, false)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	return decode[AppointmentDTO](t, rec)
}

// =============================================================================
// AVAILABILITY ENDPOINTS
// =============================================================================

func TestGetSlots(t *testing.T) {
	// GIVEN: One professional, Monday 09:00-20:00
	// WHEN: GET /slots for a 30-minute service
	// THEN: Grid runs 09:00:00 .. 19:30:00

	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/api/businesses/biz-1/slots?date="+testMonday+"&service_id=svc-cut", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[SlotsDTO](t, rec)
	assert.Equal(t, 30, dto.Duration)
	require.NotEmpty(t, dto.Slots)
	assert.Equal(t, "09:00:00", dto.Slots[0])
	assert.Equal(t, "19:30:00", dto.Slots[len(dto.Slots)-1])
}

func TestGetSlots_BadDuration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/api/businesses/biz-1/slots?date="+testMonday+"&duration_minutes=zero", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAvailableProfessionals(t *testing.T) {
	// GIVEN: An appointment at 10:00
	// WHEN: Asking who is free at 10:00 vs 10:30
	// THEN: Nobody at 10:00, Ana at 10:30

	env := newTestEnv(t)
	env.book(t, "10:00:00")

	rec := env.do(t, http.MethodGet,
		"/api/businesses/biz-1/professionals-available?date="+testMonday+"&start_time=10:00:00&service_id=svc-cut", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ProfessionalDTO](t, rec))

	rec = env.do(t, http.MethodGet,
		"/api/businesses/biz-1/professionals-available?date="+testMonday+"&start_time=10:30:00&service_id=svc-cut", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	pros := decode[[]ProfessionalDTO](t, rec)
	require.Len(t, pros, 1)
	assert.Equal(t, "pro-1", pros[0].ID)
}

func TestGetSlots_ServiceFromAnotherBusinessMapsTo404(t *testing.T) {
	// GIVEN: A second business with its own service
	// WHEN: Asking biz-1 slots with the other tenant's service_id
	// THEN: 404, the service is invisible across tenants

	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveBusiness(ctx, booking.Business{
		ID: "biz-2", Name: "Rival Salon",
	}))
	require.NoError(t, env.store.SaveService(ctx, booking.Service{
		ID: "svc-rival", BusinessID: "biz-2", Name: "Shave",
		DurationMin: 15, Price: decimal.NewFromInt(20), Active: true,
	}))

	rec := env.do(t, http.MethodGet,
		"/api/businesses/biz-1/slots?date="+testMonday+"&service_id=svc-rival", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet,
		"/api/businesses/biz-1/professionals-available?date="+testMonday+"&start_time=10:00:00&service_id=svc-rival", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

func TestCreateAppointment_ReturnsTokenOnce(t *testing.T) {
	// GIVEN: A free slot
	// WHEN: Booking, then fetching the appointment
	// THEN: The token is in the creation response only

	env := newTestEnv(t)

	created := env.book(t, "10:00:00")
	assert.NotEmpty(t, created.CancelToken)
	assert.Equal(t, "pending", created.Status)

	rec := env.do(t, http.MethodGet, "/api/appointments/"+created.ID, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode[AppointmentDTO](t, rec)
	assert.Empty(t, fetched.CancelToken)
}

func TestCreateAppointment_ConflictMapsTo409(t *testing.T) {
	env := newTestEnv(t)
	env.book(t, "10:00:00")

	rec := env.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		BusinessID: "biz-1", ProfessionalID: "pro-1", ServiceID: "svc-cut",
		Date: testMonday, StartTime: "10:00:00",
	}, false)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateAppointment_UnknownServiceMapsTo404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		BusinessID: "biz-1", ProfessionalID: "pro-1", ServiceID: "svc-ghost",
		Date: testMonday, StartTime: "10:00:00",
	}, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAppointment_BadTimeMapsTo400(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		BusinessID: "biz-1", ProfessionalID: "pro-1", ServiceID: "svc-cut",
		Date: testMonday, StartTime: "ten o'clock",
	}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAppointment(t *testing.T) {
	// GIVEN: A booked appointment and its token
	// WHEN: Cancelling with the right and wrong token
	// THEN: Wrong token is 401, right token cancels

	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	rec := env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/cancel",
		CancelAppointmentRequest{CancelToken: "wrong"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/cancel",
		CancelAppointmentRequest{CancelToken: created.CancelToken}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[AppointmentDTO](t, rec).Status)
}

func TestCompleteAppointment_RequiresOwnerKey(t *testing.T) {
	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	rec := env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/complete", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/complete", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[CompletionDTO](t, rec)
	assert.Equal(t, "completed", dto.Appointment.Status)

	// Second completion conflicts
	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/complete", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettleAppointment(t *testing.T) {
	// GIVEN: A booked appointment
	// WHEN: Settling without, then with the owner key
	// THEN: 401 without the key; with it the appointment is marked paid

	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	rec := env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/settle",
		SettleAppointmentRequest{Amount: "65"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/settle",
		SettleAppointmentRequest{Amount: "65"}, true)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	dto := decode[AppointmentDTO](t, rec)
	assert.Equal(t, "paid", dto.PaymentStatus)
	assert.Equal(t, "65", dto.PaymentAmount)
}

func TestSettleAppointment_BadAmountMapsTo400(t *testing.T) {
	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	rec := env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/settle",
		SettleAppointmentRequest{Amount: "lots"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/settle",
		SettleAppointmentRequest{Amount: "0"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// WEBHOOK ENDPOINT
// =============================================================================

func webhookPath(env *testEnv, apptID string) string {
	sig := env.handler.Reconciler.Sign(apptID, "biz-1")
	return "/api/webhooks/payment?appointment=" + apptID + "&business=biz-1&signature=" + sig
}

func TestPaymentWebhook_ApprovedFlow(t *testing.T) {
	// GIVEN: A pending appointment and an approved gateway payment
	// WHEN: The webhook fires, then replays
	// THEN: First applies (confirmed), replay is acknowledged as duplicate

	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	at := time.Date(2025, time.June, 1, 15, 0, 0, 0, time.UTC)
	env.gateway.payments["pay-1"] = &payments.Payment{
		ID:                "pay-1",
		Status:            payments.GatewayApproved,
		ExternalReference: created.ID,
		TransactionAmount: decimal.RequireFromString("25.00"),
		DateApproved:      &at,
	}

	body := WebhookRequest{}
	body.Data.ID = "pay-1"

	rec := env.do(t, http.MethodPost, webhookPath(env, created.ID), body, false)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	first := decode[WebhookResponseDTO](t, rec)
	assert.True(t, first.Applied)
	assert.Equal(t, "applied", first.Status)

	rec = env.do(t, http.MethodPost, webhookPath(env, created.ID), body, false)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[WebhookResponseDTO](t, rec)
	assert.False(t, second.Applied)
	assert.Equal(t, "duplicate", second.Status)

	appt, err := env.store.GetAppointment(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, appt.Status)
}

func TestPaymentWebhook_BadSignatureMapsTo401(t *testing.T) {
	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	body := WebhookRequest{}
	body.Data.ID = "pay-1"
	path := "/api/webhooks/payment?appointment=" + created.ID + "&business=biz-1&signature=bad"

	rec := env.do(t, http.MethodPost, path, body, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentWebhook_MismatchMapsTo422(t *testing.T) {
	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	env.gateway.payments["pay-1"] = &payments.Payment{
		ID: "pay-1", Status: payments.GatewayApproved, ExternalReference: "someone-else",
	}
	body := WebhookRequest{}
	body.Data.ID = "pay-1"

	rec := env.do(t, http.MethodPost, webhookPath(env, created.ID), body, false)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPaymentWebhook_GatewayDownMapsTo502(t *testing.T) {
	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	body := WebhookRequest{}
	body.Data.ID = "pay-unknown"

	rec := env.do(t, http.MethodPost, webhookPath(env, created.ID), body, false)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// =============================================================================
// FULL BOOKING FLOW
// =============================================================================

func TestFullFlow_SettlementDrivesCommission(t *testing.T) {
	// GIVEN: The whole pipeline: book, gateway deposit, desk settlement
	// WHEN: Completing the appointment
	// THEN: Exactly one commission line exists for it

	env := newTestEnv(t)
	created := env.book(t, "10:00:00")

	// Gateway confirms the deposit.
	at := time.Date(2025, time.June, 1, 15, 0, 0, 0, time.UTC)
	env.gateway.payments["pay-1"] = &payments.Payment{
		ID:                "pay-1",
		Status:            payments.GatewayApproved,
		ExternalReference: created.ID,
		TransactionAmount: decimal.RequireFromString("25"),
		DateApproved:      &at,
	}
	body := WebhookRequest{}
	body.Data.ID = "pay-1"
	rec := env.do(t, http.MethodPost, webhookPath(env, created.ID), body, false)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	// The desk collects the full amount.
	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/settle",
		SettleAppointmentRequest{Amount: "65"}, true)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/appointments/"+created.ID+"/complete", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/businesses/biz-1/commissions", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decode[[]CommissionDTO](t, rec)
	require.Len(t, lines, 1)
	assert.Equal(t, created.ID, lines[0].AppointmentID)
	assert.Equal(t, "pro-1", lines[0].ProfessionalID)
	assert.Equal(t, "65", lines[0].ServiceAmount, "base must be the settled amount, not the deposit")
	assert.Equal(t, "pending", lines[0].Status)
}

// =============================================================================
// MANAGEMENT ENDPOINTS
// =============================================================================

func TestManagement_RequiresOwnerKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/businesses/biz-1/products", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManagement_ProductFlow(t *testing.T) {
	// GIVEN: A product created over the API
	// WHEN: Restocking and listing
	// THEN: Quantities and the low-stock flag track

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/businesses/biz-1/products", CreateProductRequest{
		ID: "prod-1", Name: "Shampoo", Quantity: "5", Unit: "ml", ReorderThreshold: "10",
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	created := decode[ProductDTO](t, rec)
	assert.True(t, created.LowStock)

	rec = env.do(t, http.MethodPost, "/api/products/prod-1/restock",
		map[string]string{"quantity": "20"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	restocked := decode[ProductDTO](t, rec)
	assert.Equal(t, "25", restocked.Quantity)
	assert.False(t, restocked.LowStock)

	rec = env.do(t, http.MethodGet, "/api/businesses/biz-1/products", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ProductDTO](t, rec)
	require.Len(t, list, 1)
}

func TestManagement_ScheduleEntryValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/professionals/pro-1/schedule", CreateScheduleEntryRequest{
		Day: 7, StartTime: "09:00:00", EndTime: "12:00:00",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/professionals/pro-1/schedule", CreateScheduleEntryRequest{
		Day: 2, StartTime: "12:00:00", EndTime: "09:00:00",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/professionals/pro-1/schedule", CreateScheduleEntryRequest{
		Day: 2, StartTime: "09:00:00", EndTime: "12:00:00",
	}, true)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestManagement_ListAppointments(t *testing.T) {
	env := newTestEnv(t)
	env.book(t, "10:00:00")
	env.book(t, "11:00:00")

	rec := env.do(t, http.MethodGet, "/api/businesses/biz-1/appointments?date="+testMonday, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentDTO](t, rec)
	assert.Len(t, list, 2)
	for _, a := range list {
		assert.Empty(t, a.CancelToken, "agenda must not leak cancel tokens")
	}
}
