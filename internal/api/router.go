/**
 * @description
 * HTTP router for the pool engine. Service-to-service endpoints sit behind
 * the internal API key; operator actions additionally require an admin JWT.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Router and standard middleware.
 * - github.com/go-chi/cors: CORS for the admin dashboard.
 * - github.com/prometheus/client_golang: /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PoolEngineRoutes creates the router for the pool engine service.
func PoolEngineRoutes(h *PoolEngineHandlers, internalAPIKey, adminJWKSURL string, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Service-to-service endpoints.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/pools/{poolID}/memberships", h.JoinPoolHandler)
		r.Post("/pools/{poolID}/activate", h.ActivatePoolHandler)
		r.Post("/pools/{poolID}/cycles/{cycleID}/obligations", h.CreateObligationsHandler)
		r.Post("/obligations/{obligationID}/settle", h.SettleObligationHandler)
		r.Post("/memberships/{membershipID}/evaluate", h.EvaluateMembershipHandler)

		r.Post("/pools/{poolID}/cycles/{cycleID}/payout-runs", h.GeneratePayoutRunHandler)
		r.Get("/payout-instructions/{instructionID}", h.GetInstructionHandler)
		r.Post("/payout-instructions/{instructionID}/paid", h.MarkPaidHandler)
		r.Post("/payout-instructions/{instructionID}/failed", h.MarkFailedHandler)
		r.Post("/payout-instructions/{instructionID}/defer", h.DeferPayoutHandler)

		r.Post("/pools/{poolID}/collateral/unlock", h.RequestUnlockHandler)
		r.Get("/pools/{poolID}/deficits", h.ListDeficitsHandler)
		r.Get("/pools/{poolID}/treasury/position", h.LiquidityPositionHandler)
		r.Post("/pools/{poolID}/treasury/authorize", h.AuthorizeOperationHandler)

		r.Post("/internal/kill-switch/reload", h.ReloadKillSwitchHandler)
	})

	// Operator actions require an admin JWT on top of the internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Use(AdminAuthMiddleware(adminJWKSURL))

		r.Post("/payout-instructions/{instructionID}/approve", h.ApprovePayoutHandler)
		r.Post("/payout-instructions/{instructionID}/requeue", h.RequeuePayoutHandler)
		r.Post("/memberships/{membershipID}/reset-missed", h.ResetMissedCounterHandler)
	})

	return r
}
