package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	h := NewHandler(cfg.Service)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Route("/slots", func(r chi.Router) {
			r.Post("/", h.CreateSlot)
			r.Get("/", h.ListSlots)
			r.Get("/available", h.AvailableSlots)
			r.Get("/{id}", h.GetSlot)
			r.Patch("/{id}", h.UpdateSlot)
			r.Delete("/{id}", h.DeleteSlot)
		})

		r.Get("/windows/available", h.AvailableWindows)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.Book)
			r.Post("/raw", h.BookRaw)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.ListAppointments)
			r.Get("/{id}", h.GetAppointment)
			r.Patch("/{id}", h.UpdateStatus)
			r.Post("/{id}/accept", h.Accept)
			r.Post("/{id}/decline", h.Decline)
			r.Post("/{id}/complete", h.Complete)
			r.Post("/{id}/miss", h.MarkMissed)
			r.Post("/{id}/cancel", h.Cancel)
			r.Post("/{id}/move", h.Move)
		})
	})

	return r
}
