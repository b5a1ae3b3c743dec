package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/availability", checkAvailabilityHandler(cfg.Service))

	// Appointments
	r.Post("/appointments", createAppointmentHandler(cfg.Service))
	r.Post("/appointments/series", createSeriesHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Patch("/appointments/{id}/status", changeStatusHandler(cfg.Service))
	r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Service))
	r.Delete("/appointments/{id}/series", deleteSeriesHandler(cfg.Service))

	// Patient views
	r.Get("/patients/{id}/appointments", listAppointmentsHandler(cfg.Service))

	// Payments
	r.Post("/invoices/{id}/payments", recordPaymentHandler(cfg.Service))

	return r
}
