package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoanghamhok/ticket-booking/internal/observability"
	"github.com/hoanghamhok/ticket-booking/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(jwtSecret))
		r.Use(RateLimitMiddleware(rl))
		r.Use(IdempotencyMiddleware)

		r.Post("/v1/bookings/hold", h.HoldTickets)
		r.Post("/v1/bookings/{id}/pay", h.PayBooking)
		r.Get("/v1/bookings/me", h.MyBookings)
		r.Get("/v1/events/{id}/available", h.AvailableTickets)
		r.Post("/v1/events/{id}/tickets", h.CreateTickets)
	})

	return r
}
