/*
server.go - HTTP router and middleware configuration

PURPOSE:

	Configures the HTTP router (chi), middleware stack, and route definitions.
	This is the wiring layer that connects URLs to handlers.

ROUTER: chi

	Chi was chosen for:
	- Lightweight and fast
	- Context-based
	- Middleware support
	- RESTful route patterns

MIDDLEWARE STACK:
 1. Logger:     Request logging
 2. Recoverer:  Panic recovery (500 instead of crash)
 3. RequestID:  Unique ID per request for tracing
 4. CORS:       Cross-origin requests for the booking frontend

ROUTE GROUPS:

	/api/businesses/*     Availability queries and tenant management
	/api/appointments/*   Booking lifecycle
	/api/webhooks/*       Gateway payment notifications
	/api/professionals/*  Schedules and commission overrides
	/api/services/*       Service recipes
	/api/products/*       Restocking
	/api/commissions/*    Commission settlement

AUTH:

	Client-facing endpoints (slots, create, cancel) need no login; cancel
	is authorized by the per-appointment token. Management endpoints and
	completion require the owner API key in X-API-Key. The webhook is
	authorized by its HMAC signature, checked in the reconciler.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Client-facing routes
		r.Route("/businesses/{businessID}", func(r chi.Router) {
			r.Get("/slots", h.GetSlots)
			r.Get("/professionals-available", h.GetAvailableProfessionals)

			// Owner routes under the same prefix
			r.Group(func(r chi.Router) {
				r.Use(h.ownerOnly)
				r.Get("/appointments", h.ListAppointments)
				r.Post("/professionals", h.CreateProfessional)
				r.Post("/services", h.CreateService)
				r.Post("/products", h.CreateProduct)
				r.Get("/products", h.ListProducts)
				r.Get("/commissions", h.ListCommissions)
			})
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.CreateAppointment)
			r.Get("/{id}", h.GetAppointment)
			r.Post("/{id}/cancel", h.CancelAppointment)
			r.With(h.ownerOnly).Post("/{id}/settle", h.SettleAppointment)
			r.With(h.ownerOnly).Post("/{id}/complete", h.CompleteAppointment)
		})

		r.Post("/webhooks/payment", h.PaymentWebhook)

		// Owner management routes
		r.Group(func(r chi.Router) {
			r.Use(h.ownerOnly)
			r.Post("/businesses", h.CreateBusiness)
			r.Post("/professionals/{id}/schedule", h.CreateScheduleEntry)
			r.Post("/professionals/{id}/commission-override", h.SetCommissionOverride)
			r.Post("/services/{id}/recipe", h.SetRecipeItem)
			r.Post("/products/{id}/restock", h.RestockProduct)
			r.Post("/commissions/{id}/pay", h.PayCommission)
		})
	})

	return r
}

// ownerOnly rejects requests without the owner API key. A handler with an
// empty OwnerKey runs open (dev mode).
func (h *Handler) ownerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.OwnerKey != "" && r.Header.Get("X-API-Key") != h.OwnerKey {
			writeError(w, http.StatusUnauthorized, "Missing or invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
