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
  /api/requests/*       Aid request lifecycle
  /api/disbursements/*  Fund handoffs and ledger
  /api/liquidations/*   Receipt-backed claims and approvals
  /api/pending          Per-role work queues
  /api/admin/*          Recompute, repair, recalculation

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; an
  identity-aware gateway belongs in front for production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Aid request routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Get("/{id}/history", h.RequestHistory)
			r.Post("/{id}/review", h.ReviewRequest)
		})

		// Disbursement routes
		r.Route("/disbursements", func(r chi.Router) {
			r.Get("/{id}", h.GetDisbursement)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Delete("/{id}", h.DeleteDisbursement)
			r.Post("/{id}/finance-disburse", h.FinanceDisburse)
			r.Post("/{id}/receive", h.CaseworkerReceive)
			r.Post("/{id}/release", h.CaseworkerDisburse)
			r.Post("/{id}/confirm", h.BeneficiaryReceive)
			r.Post("/{id}/liquidations", h.OpenLiquidation)
		})

		// Liquidation routes
		r.Route("/liquidations", func(r chi.Router) {
			r.Get("/{id}", h.GetLiquidation)
			r.Get("/{id}/history", h.LiquidationHistory)
			r.Post("/{id}/receipts", h.AttachReceipt)
			r.Post("/{id}/receipts/{receiptID}/verify", h.VerifyReceipt)
			r.Post("/{id}/submit", h.SubmitLiquidation)
			r.Post("/{id}/approve", h.ApproveLiquidation)
			r.Post("/{id}/reject", h.RejectLiquidation)
		})

		// Work queue routes
		r.Get("/pending", h.PendingWork)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/disbursements", h.CreateDisbursement)
			r.Post("/disbursements/{id}/recompute", h.RecomputeDisbursement)
			r.Post("/repair", h.RepairLedgers)
			r.Post("/recalculate", h.Recalculate)
		})
	})

	return r
}
