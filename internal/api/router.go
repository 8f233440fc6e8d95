package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/careops/scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Operational endpoints stay outside the identity requirement.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		svc := cfg.Service

		r.Get("/practitioners/{practitionerID}/slots", getSlotsHandler(svc))

		r.Post("/templates", createTemplateHandler(svc))
		r.Get("/practitioners/{practitionerID}/templates", listTemplatesHandler(svc))
		r.Post("/practitioners/{practitionerID}/templates/{templateID}/deactivate", deactivateTemplateHandler(svc))

		r.Post("/unavailability", createUnavailabilityHandler(svc))
		r.Delete("/practitioners/{practitionerID}/unavailability/{unavailabilityID}", deleteUnavailabilityHandler(svc))

		r.Post("/locks", acquireLockHandler(svc))
		r.Delete("/locks/{token}", releaseLockHandler(svc))
		r.Post("/locks/{token}/renew", renewLockHandler(svc))

		r.Post("/appointments", createAppointmentHandler(svc))
		r.Get("/appointments/{id}", getAppointmentHandler(svc))
		r.Get("/patients/{patientID}/appointments", listPatientAppointmentsHandler(svc))

		r.Post("/appointments/{id}/confirm", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
			return svc.Confirm(req.Context(), CallerIdentity(req.Context()), id)
		}))
		r.Post("/appointments/{id}/propose", proposeHandler(svc))
		r.Post("/appointments/{id}/accept", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
			return svc.AcceptProposal(req.Context(), CallerIdentity(req.Context()), id)
		}))
		r.Post("/appointments/{id}/refuse", refuseHandler(svc))
		r.Post("/appointments/{id}/cancel", cancelHandler(svc))
		r.Post("/appointments/{id}/start", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
			return svc.Start(req.Context(), CallerIdentity(req.Context()), id)
		}))
		r.Post("/appointments/{id}/no-show", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
			return svc.MarkNoShow(req.Context(), CallerIdentity(req.Context()), id)
		}))
		r.Post("/appointments/{id}/complete", transitionHandler(func(req *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
			return svc.Complete(req.Context(), CallerIdentity(req.Context()), id)
		}))
		r.Post("/appointments/{id}/reschedule", rescheduleHandler(svc))
	})

	return r
}
