// Package router assembles the HTTP API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicware/medibot/internal/http/handlers"
	"github.com/clinicware/medibot/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Webhook        *handlers.WebhookHandler
	Appointments   *handlers.AppointmentsHandler
	Jobs           *handlers.JobsHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhook != nil {
		r.Post("/webhooks/whatsapp/messages", cfg.Webhook.HandleInbound)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.Appointments != nil {
			api.Get("/providers/{providerID}/slots", cfg.Appointments.ListSlots)
			api.Post("/appointments", cfg.Appointments.Book)
			api.Post("/appointments/{appointmentID}/cancel", cfg.Appointments.Cancel)
			api.Post("/appointments/{appointmentID}/confirm", cfg.Appointments.Confirm)
		}
		if cfg.Jobs != nil {
			api.Get("/jobs/{jobID}", cfg.Jobs.GetJob)
		}
	})

	return r
}
