/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:

	Exposes the scheduling, booking, and reconciliation engines via REST
	API. Handles HTTP request/response, JSON serialization, and delegates
	to domain logic.

ENDPOINTS:

	Availability:
	  GET    /api/businesses/{businessID}/slots                   Bookable starts for a date
	  GET    /api/businesses/{businessID}/professionals-available Who can take a slot

	Appointments:
	  POST   /api/appointments                 Book a slot
	  GET    /api/appointments/{id}            Get appointment
	  POST   /api/appointments/{id}/cancel     Cancel (token-authorized)
	  POST   /api/appointments/{id}/settle     Record full payment (owner API key)
	  POST   /api/appointments/{id}/complete   Complete (owner API key)

	Webhooks:
	  POST   /api/webhooks/payment             Gateway payment notification

	Management (owner API key):
	  POST   /api/businesses                              Register business
	  GET    /api/businesses/{businessID}/appointments    Day agenda
	  POST   /api/businesses/{businessID}/professionals   Add professional
	  POST   /api/professionals/{id}/schedule             Add weekly window
	  POST   /api/businesses/{businessID}/services        Add service
	  POST   /api/services/{id}/recipe                    Set recipe item
	  POST   /api/businesses/{businessID}/products        Add product
	  GET    /api/businesses/{businessID}/products        Stock levels
	  POST   /api/products/{id}/restock                   Add stock
	  GET    /api/businesses/{businessID}/commissions     Commission lines
	  POST   /api/commissions/{id}/pay                    Mark commission paid
	  POST   /api/professionals/{id}/commission-override  Per-service override

ERROR HANDLING:

	Errors are returned as JSON with appropriate HTTP status:
	- 400: Validation errors, invalid input
	- 401: Bad webhook signature, bad cancel token, missing API key
	- 404: Resource not found
	- 409: Conflict (slot taken, invalid transition, window passed)
	- 422: Payment does not reference this appointment
	- 502: Gateway unreachable (caller should retry)
	- 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/payments"
	"github.com/warp/booking-engine/schedule"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Availability *schedule.Engine
	Lifecycle    *booking.Lifecycle
	Reconciler   *payments.Reconciler

	// OwnerKey guards the management and completion endpoints. Empty
	// disables the check (dev mode).
	OwnerKey string
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, availability *schedule.Engine, lifecycle *booking.Lifecycle, reconciler *payments.Reconciler) *Handler {
	return &Handler{
		Store:        store,
		Availability: availability,
		Lifecycle:    lifecycle,
		Reconciler:   reconciler,
	}
}

// =============================================================================
// AVAILABILITY HANDLERS
// =============================================================================

// GetSlots returns the bookable start times for a business, date, and
// service duration.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")
	date := r.URL.Query().Get("date")

	duration, err := resolveDuration(r, h, businessID)
	if err != nil {
		writeDomainError(w, "Invalid duration", err)
		return
	}

	slots, err := h.Availability.SlotsFor(r.Context(), businessID, date, duration)
	if err != nil {
		writeDomainError(w, "Failed to compute slots", err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsDTO{Date: date, Duration: duration, Slots: slots})
}

// GetAvailableProfessionals returns the professionals free for a concrete
// slot.
func (h *Handler) GetAvailableProfessionals(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")
	date := r.URL.Query().Get("date")

	startMin, err := schedule.ParseTime(r.URL.Query().Get("start_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time format (use HH:MM:SS)", err)
		return
	}
	duration, err := resolveDuration(r, h, businessID)
	if err != nil {
		writeDomainError(w, "Invalid duration", err)
		return
	}

	pros, err := h.Availability.ProfessionalsFor(r.Context(), businessID, date, startMin, duration)
	if err != nil {
		writeDomainError(w, "Failed to compute availability", err)
		return
	}

	writeJSON(w, http.StatusOK, toProfessionalDTOs(pros))
}

// resolveDuration reads the slot duration from either an explicit
// duration_minutes or a service_id lookup. The service must belong to the
// business in the URL; another tenant's service id is treated as missing.
func resolveDuration(r *http.Request, h *Handler, businessID string) (int, error) {
	if serviceID := r.URL.Query().Get("service_id"); serviceID != "" {
		svc, err := h.Store.GetService(r.Context(), serviceID)
		if err != nil {
			return 0, err
		}
		if svc == nil || svc.BusinessID != businessID {
			return 0, fmt.Errorf("service %s: %w", serviceID, booking.ErrNotFound)
		}
		return svc.DurationMin, nil
	}
	duration, err := strconv.Atoi(r.URL.Query().Get("duration_minutes"))
	if err != nil || duration <= 0 {
		return 0, schedule.ErrInvalidDuration
	}
	return duration, nil
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// CreateAppointment books a slot.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	appt, err := h.Lifecycle.Create(r.Context(), booking.CreateInput{
		BusinessID:     req.BusinessID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		ClientName:     req.ClientName,
		ClientEmail:    req.ClientEmail,
		ClientPhone:    req.ClientPhone,
	})
	if err != nil {
		writeDomainError(w, "Failed to create appointment", err)
		return
	}

	// The cancel token is only ever sent here; the client keeps it.
	writeJSON(w, http.StatusCreated, toAppointmentDTO(appt, true))
}

// GetAppointment returns a single appointment, without its cancel token.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	appt, err := h.Store.GetAppointment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get appointment", err)
		return
	}
	if appt == nil {
		writeError(w, http.StatusNotFound, "Appointment not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentDTO(appt, false))
}

// CancelAppointment cancels with the client's token.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actor := req.CancelledBy
	if actor == "" {
		actor = "client"
	}

	appt, err := h.Lifecycle.Cancel(r.Context(), id, req.CancelToken, actor)
	if err != nil {
		writeDomainError(w, "Failed to cancel appointment", err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentDTO(appt, false))
}

// CompleteAppointment marks service delivery done and consumes stock.
func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	appt, consumed, err := h.Lifecycle.Complete(r.Context(), id, "owner")
	if err != nil {
		writeDomainError(w, "Failed to complete appointment", err)
		return
	}

	dto := CompletionDTO{
		Appointment: toAppointmentDTO(appt, false),
		Consumed:    make([]ConsumedProductDTO, len(consumed)),
	}
	for i, c := range consumed {
		dto.Consumed[i] = ConsumedProductDTO{
			ProductID: c.ProductID,
			Name:      c.Name,
			Quantity:  c.Quantity.String(),
			Remaining: c.Remaining.String(),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// SettleAppointment records the final amount collected at the desk and marks
// the appointment fully paid. Completed appointments accrue their commission
// here.
func (h *Handler) SettleAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SettleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	appt, err := h.Lifecycle.Settle(r.Context(), id, amount, "owner")
	if err != nil {
		writeDomainError(w, "Failed to settle appointment", err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentDTO(appt, false))
}

// =============================================================================
// WEBHOOK HANDLER
// =============================================================================

// PaymentWebhook receives a gateway notification and reconciles the
// referenced appointment against the gateway's record.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paymentID := req.Data.ID
	if paymentID == "" {
		paymentID = req.PaymentID
	}
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "Missing payment id", nil)
		return
	}

	result, err := h.Reconciler.Reconcile(r.Context(), payments.Notification{
		AppointmentID: q.Get("appointment"),
		BusinessID:    q.Get("business"),
		Signature:     q.Get("signature"),
		PaymentID:     paymentID,
	})
	if err != nil {
		writeDomainError(w, "Failed to process notification", err)
		return
	}

	status := "applied"
	if result.Deduped {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, WebhookResponseDTO{Status: status, Applied: result.Applied})
}

// =============================================================================
// MANAGEMENT HANDLERS
// =============================================================================

// CreateBusiness registers a tenant.
func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	var req CreateBusinessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing name", nil)
		return
	}

	b := booking.Business{
		ID:                 orNewID(req.ID),
		Name:               req.Name,
		Email:              req.Email,
		GatewayAccessToken: req.GatewayAccessToken,
	}
	if err := h.Store.SaveBusiness(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create business", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": b.ID, "name": b.Name})
}

// ListAppointments returns a business's agenda for one date.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")
	date := r.URL.Query().Get("date")

	appts, err := h.Store.ListAppointments(r.Context(), businessID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list appointments", err)
		return
	}

	dtos := make([]AppointmentDTO, len(appts))
	for i := range appts {
		dtos[i] = toAppointmentDTO(&appts[i], false)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProfessional adds a professional to a business.
func (h *Handler) CreateProfessional(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")

	var req CreateProfessionalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := booking.Professional{
		ID:         orNewID(req.ID),
		BusinessID: businessID,
		Name:       req.Name,
		Email:      req.Email,
		Active:     req.Active == nil || *req.Active,
	}
	if req.CommissionPercent != "" {
		pct, err := decimal.NewFromString(req.CommissionPercent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid commission_percent", err)
			return
		}
		p.CommissionPercent = &pct
	}
	if err := h.Store.SaveProfessional(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create professional", err)
		return
	}
	writeJSON(w, http.StatusCreated, ProfessionalDTO{ID: p.ID, Name: p.Name})
}

// CreateScheduleEntry adds a weekly recurring window for a professional.
func (h *Handler) CreateScheduleEntry(w http.ResponseWriter, r *http.Request) {
	professionalID := chi.URLParam(r, "id")

	var req CreateScheduleEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Day < 0 || req.Day > 6 {
		writeError(w, http.StatusBadRequest, "day_of_week must be 0-6 (0 = Sunday)", nil)
		return
	}
	startMin, err := schedule.ParseTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time format (use HH:MM:SS)", err)
		return
	}
	endMin, err := schedule.ParseTime(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_time format (use HH:MM:SS)", err)
		return
	}
	if startMin >= endMin {
		writeError(w, http.StatusBadRequest, "start_time must precede end_time", nil)
		return
	}

	entry := booking.WorkScheduleEntry{
		ID:             uuid.NewString(),
		ProfessionalID: professionalID,
		Day:            req.Day,
		StartMin:       startMin,
		EndMin:         endMin,
		Active:         req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveWorkScheduleEntry(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create schedule entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

// CreateService adds a bookable service.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")

	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DurationMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "duration_minutes must be positive", nil)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	svc := booking.Service{
		ID:          orNewID(req.ID),
		BusinessID:  businessID,
		Name:        req.Name,
		DurationMin: req.DurationMinutes,
		Price:       price,
		Active:      true,
	}
	if err := h.Store.SaveService(r.Context(), svc); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create service", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": svc.ID})
}

// SetRecipeItem sets the per-use quantity of one product for a service.
func (h *Handler) SetRecipeItem(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "id")

	var req RecipeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(req.QuantityPerUse)
	if err != nil || qty.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "quantity_per_use must be a positive decimal", err)
		return
	}

	item := booking.RecipeItem{
		ServiceID:      serviceID,
		ProductID:      req.ProductID,
		QuantityPerUse: qty,
	}
	if err := h.Store.SaveRecipeItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save recipe item", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"service_id": serviceID, "product_id": req.ProductID})
}

// CreateProduct adds a stock-tracked product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")

	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(orZero(req.Quantity))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
		return
	}
	threshold, err := decimal.NewFromString(orZero(req.ReorderThreshold))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reorder_threshold", err)
		return
	}

	p := booking.Product{
		ID:               orNewID(req.ID),
		BusinessID:       businessID,
		Name:             req.Name,
		Quantity:         qty,
		Unit:             req.Unit,
		ReorderThreshold: threshold,
	}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// ListProducts returns stock levels with the low-stock flag.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")

	products, err := h.Store.ListProducts(r.Context(), businessID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RestockProduct adds stock and records the movement.
func (h *Handler) RestockProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	var req struct {
		Quantity string `json:"quantity"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || qty.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "restock"
	}

	if err := h.Store.AddStock(r.Context(), productID, qty, uuid.NewString(), reason); err != nil {
		writeDomainError(w, "Failed to restock product", err)
		return
	}

	p, err := h.Store.GetProduct(r.Context(), productID)
	if err != nil || p == nil {
		writeError(w, http.StatusInternalServerError, "Failed to read product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// ListCommissions returns the commission lines for a business.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")

	lines, err := h.Store.ListCommissions(r.Context(), businessID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}

	dtos := make([]CommissionDTO, len(lines))
	for i, c := range lines {
		dtos[i] = toCommissionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PayCommission settles one pending commission line.
func (h *Handler) PayCommission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	paid, err := h.Store.MarkCommissionPaid(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to pay commission", err)
		return
	}
	if !paid {
		writeError(w, http.StatusConflict, "Commission is not pending", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "paid"})
}

// SetCommissionOverride sets a per-(professional, service) percentage.
func (h *Handler) SetCommissionOverride(w http.ResponseWriter, r *http.Request) {
	professionalID := chi.URLParam(r, "id")

	var req struct {
		ServiceID  string `json:"service_id"`
		Percentage string `json:"percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pct, err := decimal.NewFromString(req.Percentage)
	if err != nil || pct.Sign() < 0 || pct.GreaterThan(decimal.NewFromInt(100)) {
		writeError(w, http.StatusBadRequest, "percentage must be a decimal in [0, 100]", err)
		return
	}

	if err := h.Store.SetCommissionOverride(r.Context(), professionalID, req.ServiceID, pct); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set override", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"professional_id": professionalID,
		"service_id":      req.ServiceID,
		"percentage":      pct.String(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toProductDTO(p booking.Product) ProductDTO {
	return ProductDTO{
		ID:               p.ID,
		Name:             p.Name,
		Quantity:         p.Quantity.String(),
		Unit:             p.Unit,
		ReorderThreshold: p.ReorderThreshold.String(),
		LowStock:         p.Quantity.LessThanOrEqual(p.ReorderThreshold),
	}
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidTimeFormat),
		errors.Is(err, schedule.ErrInvalidDuration),
		errors.Is(err, booking.ErrInvalidPaymentAmount):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, payments.ErrInvalidSignature),
		errors.Is(err, booking.ErrInvalidCancelToken):
		writeError(w, http.StatusUnauthorized, message, err)
	case booking.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case booking.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, payments.ErrPaymentMismatch):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, payments.ErrMissingGatewayCredential):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case payments.IsRetryable(err):
		writeError(w, http.StatusBadGateway, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
