/**
 * @description
 * This file sets up the HTTP router for the payments-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PaymentRoutes creates and returns a new router for the payments service.
func PaymentRoutes(h *PaymentHandlers, jwtSecret, jwtIssuer string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhooks authenticate by HMAC signature, not by tenant JWT.
	r.Post("/webhooks/{provider}", h.ProviderWebhookHandler)

	// Group routes that require tenant authentication.
	r.Group(func(r chi.Router) {
		r.Use(TenantAuthMiddleware(jwtSecret, jwtIssuer))

		// Charge creation and transaction lifecycle.
		r.Post("/payments", h.CreatePaymentHandler)
		r.Post("/payments/moto", h.CreateMotoPaymentHandler)
		r.Get("/payments/{transactionID}", h.GetPaymentHandler)
		r.Post("/payments/{transactionID}/refund", h.RefundPaymentHandler)
		r.Post("/payments/{transactionID}/void", h.VoidPaymentHandler)

		// Recurring contract management.
		r.Post("/contracts", h.EstablishContractHandler)
		r.Get("/contracts/{contractID}", h.GetContractHandler)
		r.Post("/contracts/{contractID}/charge", h.ChargeContractHandler)
		r.Post("/contracts/{contractID}/cancel", h.CancelContractHandler)
		r.Post("/contracts/{contractID}/pause", h.PauseContractHandler)
		r.Post("/contracts/{contractID}/resume", h.ResumeContractHandler)

		// Commission reporting.
		r.Get("/reports/commission/summary", h.CommissionSummaryHandler)
		r.Get("/reports/commission/rate", h.CommissionRateHandler)
		r.Get("/reports/commission/entries", h.CommissionEntriesHandler)

		// Provider fee transparency.
		r.Get("/providers/{provider}/fees", h.ProviderFeesHandler)
	})

	return r
}
