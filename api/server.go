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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/vouchers/*   Voucher lifecycle
  /api/accounts/*   Chart of accounts
  /api/reports/*    Trial balance and party statements
  /api/admin/*      Collaborator seeding (dev/demo)
  /healthz          Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; the
  X-Actor-ID header is trusted as-is for the audit trail.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Voucher lifecycle
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Post("/", h.CreateVoucher)
			r.Get("/{id}", h.GetVoucher)
			r.Put("/{id}", h.UpdateVoucher)
			r.Delete("/{id}", h.DeleteVoucher)
			r.Post("/{id}/approve", h.ApproveVoucher)
			r.Post("/{id}/reject", h.RejectVoucher)
			r.Get("/{id}/entries", h.GetVoucherEntries)
		})

		// Chart of accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}/parent", h.ReparentAccount)
			r.Delete("/{id}", h.DeleteAccount)
		})

		// Reports
		r.Route("/reports", func(r chi.Router) {
			r.Get("/trial-balance", h.GetTrialBalance)
			r.Get("/parties/{id}/statement", h.GetPartyStatement)
		})

		// Admin: collaborator seeding
		r.Route("/admin", func(r chi.Router) {
			r.Post("/invoices", h.SeedInvoice)
			r.Post("/parties", h.SeedParty)
			r.Post("/categories", h.SeedCategory)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
