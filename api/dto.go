/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	JSON structures for API communication, decoupling the domain model from
	the external contract. Times cross the wire as strings: dates are
	YYYY-MM-DD, times of day are HH:MM[:SS] in, HH:MM:SS out. Money fields
	are decimal strings.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/commission"
	"github.com/warp/booking-engine/schedule"
)

// =============================================================================
// AVAILABILITY
// =============================================================================

// SlotsDTO is the grid of bookable starts for one date.
type SlotsDTO struct {
	Date     string   `json:"date"`
	Duration int      `json:"duration_minutes"`
	Slots    []string `json:"slots"`
}

// ProfessionalDTO represents a professional in API responses.
type ProfessionalDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func toProfessionalDTOs(pros []schedule.Professional) []ProfessionalDTO {
	dtos := make([]ProfessionalDTO, len(pros))
	for i, p := range pros {
		dtos[i] = ProfessionalDTO{ID: p.ID, Name: p.Name}
	}
	return dtos
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

// CreateAppointmentRequest is the booking request body.
type CreateAppointmentRequest struct {
	BusinessID     string `json:"business_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	ClientName     string `json:"client_name"`
	ClientEmail    string `json:"client_email"`
	ClientPhone    string `json:"client_phone"`
}

// CancelAppointmentRequest carries the cancel token; no login required.
type CancelAppointmentRequest struct {
	CancelToken string `json:"cancel_token"`
	CancelledBy string `json:"cancelled_by"`
}

// SettleAppointmentRequest carries the final amount collected for an
// appointment.
type SettleAppointmentRequest struct {
	Amount string `json:"amount"`
}

// AppointmentDTO represents an appointment in API responses.
// The cancel token is only included in the creation response.
type AppointmentDTO struct {
	ID             string `json:"id"`
	BusinessID     string `json:"business_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	ClientName     string `json:"client_name,omitempty"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	PaymentAmount  string `json:"payment_amount"`
	CancelToken    string `json:"cancel_token,omitempty"`
}

func toAppointmentDTO(a *booking.Appointment, includeToken bool) AppointmentDTO {
	dto := AppointmentDTO{
		ID:             a.ID,
		BusinessID:     a.BusinessID,
		ProfessionalID: a.ProfessionalID,
		ServiceID:      a.ServiceID,
		ClientName:     a.ClientName,
		Date:           a.Date,
		StartTime:      schedule.FormatTime(a.StartMin),
		EndTime:        schedule.FormatTime(a.EndMin),
		Status:         string(a.Status),
		PaymentStatus:  string(a.PaymentStatus),
		PaymentAmount:  a.PaymentAmount.String(),
	}
	if includeToken {
		dto.CancelToken = a.CancelToken
	}
	return dto
}

// CompletionDTO reports the completion plus the stock actually consumed.
type CompletionDTO struct {
	Appointment AppointmentDTO       `json:"appointment"`
	Consumed    []ConsumedProductDTO `json:"consumed_products"`
}

// ConsumedProductDTO is one successful stock decrement.
type ConsumedProductDTO struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	Remaining string `json:"remaining"`
}

// =============================================================================
// WEBHOOK
// =============================================================================

// WebhookRequest is the gateway notification body. Only the payment ID is
// read; everything else is re-fetched from the gateway.
type WebhookRequest struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	PaymentID string `json:"payment_id"`
}

// WebhookResponseDTO acknowledges a processed notification.
type WebhookResponseDTO struct {
	Status  string `json:"status"` // applied | duplicate
	Applied bool   `json:"applied"`
}

// =============================================================================
// MANAGEMENT
// =============================================================================

// CreateBusinessRequest registers a tenant.
type CreateBusinessRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	GatewayAccessToken string `json:"gateway_access_token"`
}

// CreateProfessionalRequest adds a professional to a business.
type CreateProfessionalRequest struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Active            *bool  `json:"active"`
	CommissionPercent string `json:"commission_percent"`
}

// CreateScheduleEntryRequest adds one recurring weekly window.
type CreateScheduleEntryRequest struct {
	Day       int    `json:"day_of_week"` // 0 = Sunday
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Active    *bool  `json:"active"`
}

// CreateServiceRequest adds a bookable service.
type CreateServiceRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
}

// RecipeItemRequest sets a per-use product quantity for a service.
type RecipeItemRequest struct {
	ProductID      string `json:"product_id"`
	QuantityPerUse string `json:"quantity_per_use"`
}

// CreateProductRequest adds a stock-tracked product.
type CreateProductRequest struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Quantity         string `json:"quantity"`
	Unit             string `json:"unit"`
	ReorderThreshold string `json:"reorder_threshold"`
}

// ProductDTO represents a product with its stock level.
type ProductDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Quantity         string `json:"quantity"`
	Unit             string `json:"unit,omitempty"`
	ReorderThreshold string `json:"reorder_threshold"`
	LowStock         bool   `json:"low_stock"`
}

// CommissionDTO represents one accrued commission line.
type CommissionDTO struct {
	ID             string `json:"id"`
	ProfessionalID string `json:"professional_id"`
	AppointmentID  string `json:"appointment_id"`
	ServiceAmount  string `json:"service_amount"`
	Percentage     string `json:"percentage"`
	Amount         string `json:"commission_amount"`
	Status         string `json:"status"`
	GeneratedAt    string `json:"generated_at"`
	PaidAt         string `json:"paid_at,omitempty"`
}

func toCommissionDTO(c commission.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:             c.ID,
		ProfessionalID: c.ProfessionalID,
		AppointmentID:  c.AppointmentID,
		ServiceAmount:  c.ServiceAmount.String(),
		Percentage:     c.Percentage.String(),
		Amount:         c.Amount.String(),
		Status:         string(c.Status),
		GeneratedAt:    c.GeneratedAt.Format(time.RFC3339),
	}
	if c.PaidAt != nil {
		dto.PaidAt = c.PaidAt.Format(time.RFC3339)
	}
	return dto
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
