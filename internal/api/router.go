package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Bookings    BookingService
	Patients    PatientLookup  // optional
	Transcripts TranscriptSink // optional
	Health      *HealthHandler
	Metrics     http.Handler // optional, served at /metrics
	Logger      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	log := cfg.Logger

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoveryMiddleware(log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Bookings, log))
		r.Get("/", listAppointmentsHandler(cfg.Bookings, log))
		r.Get("/statuses", listStatusesHandler)
		r.Get("/{id}", getAppointmentHandler(cfg.Bookings, log))
		r.Put("/{id}", updateAppointmentHandler(cfg.Bookings, log))
		r.Delete("/{id}", deleteAppointmentHandler(cfg.Bookings, log))
		r.Put("/{id}/status", updateStatusHandler(cfg.Bookings, log))
	})

	r.Route("/availability", func(r chi.Router) {
		r.Post("/", publishAvailabilityHandler(cfg.Bookings, log))
		r.Get("/{dentist_id}/{date}", getAvailabilityHandler(cfg.Bookings, log))
		r.Get("/{dentist_id}/{date}/{time}", checkSlotHandler(cfg.Bookings, log))
	})

	if cfg.Patients != nil {
		r.Get("/patients/{id}", getPatientHandler(cfg.Patients, log))
	}
	if cfg.Transcripts != nil {
		r.Post("/voice/transcripts", submitTranscriptHandler(cfg.Transcripts, log))
	}

	return r
}
