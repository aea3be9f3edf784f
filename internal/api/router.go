package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
	// Clock returns the current tenant-local wall-clock time. Defaults to appointment.LocalClock.
	Clock func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = appointment.LocalClock
	}
	h := &handlers{svc: cfg.Service, now: clock, logger: cfg.Logger}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Appointment endpoints
		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/{action}", h.transitionAppointment)

		// Doctor availability
		r.Get("/doctors/{doctorID}/slots", h.availableSlots)
		r.Get("/doctors/{doctorID}/availability", h.checkAvailability)
	})

	return r
}
