package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-holds/internal/idempotency"
	"github.com/robertarktes/seat-holds/internal/observability"
	"github.com/robertarktes/seat-holds/internal/rateLimit"
)

// RouterOptions carries the optional middleware. A nil limiter or
// idempotency store disables that middleware.
type RouterOptions struct {
	RateLimiter        *rateLimit.RateLimiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Get("/readyz", h.Readyz)

		r.Group(func(r chi.Router) {
			if opts.Idempotency != nil {
				r.Use(IdempotencyMiddleware(opts.Idempotency))
			}
			r.Post("/shows", h.SeedShow)
			r.Get("/shows/{showID}/seats", h.ListSeats)
			r.Get("/shows/{showID}/seats/{seatID}/bookings", h.ListBookings)
			r.Get("/shows/{showID}/events", h.Events)

			r.Route("/holds", func(r chi.Router) {
				if opts.RateLimiter != nil && opts.RateLimitPerMinute > 0 {
					r.Use(RateLimitMiddleware(opts.RateLimiter, opts.RateLimitPerMinute))
				}
				r.Post("/", h.Hold)
				r.Post("/confirm", h.Confirm)
				r.Post("/release", h.Release)
				r.Get("/{showID}/{seatID}", h.PeekHold)
			})
		})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
