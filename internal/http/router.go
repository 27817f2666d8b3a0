package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/wifi-access-tickets/internal/idempotency"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
	"github.com/robertarktes/wifi-access-tickets/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(WalletMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/tickets/mint", h.Mint)
	r.Post("/v1/tickets/{id}/activate", h.Activate)
	r.Post("/v1/tickets/{id}/transfer", h.Transfer)
	r.Get("/v1/tickets/{id}", h.GetTicket)
	r.Get("/v1/tickets/{id}/valid", h.IsValid)
	r.Get("/v1/access/{wallet}", h.CheckAccess)
	r.Get("/v1/wallets/{wallet}/tickets", h.UserTickets)
	r.Post("/v1/bindings", h.CreateBinding)
	r.Delete("/v1/bindings", h.DeleteBinding)
	r.Get("/v1/policy", h.GetPolicy)
	r.Put("/v1/policy", h.UpdatePolicy)
	r.Get("/v1/treasury", h.Treasury)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
