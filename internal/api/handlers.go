package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/appointment"
	"github.com/tunminster/by-the-app-demo/internal/patient"
	redisclient "github.com/tunminster/by-the-app-demo/internal/redis"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

// BookingService is the booking engine as seen by the REST layer.
type BookingService interface {
	CreateAppointment(ctx context.Context, d appointment.Draft) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, p appointment.Patch) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status appointment.Status) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SearchAppointments(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
	GetAvailability(ctx context.Context, dentistID uuid.UUID, date time.Time) (*slot.Availability, error)
	CheckSlot(ctx context.Context, ref slot.Ref) (slot.CheckResult, error)
	PublishAvailability(ctx context.Context, a slot.Availability) (*slot.Availability, error)
}

// TranscriptSink accepts completed voice transcripts for fulfillment.
type TranscriptSink interface {
	OnTranscriptComplete(ctx context.Context, callID, transcript string, metadata map[string]any) error
}

type PatientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

const maxBodyBytes = 1 << 20

var errEmptyBody = fmt.Errorf("%w: request body is empty", apperr.ErrInvalid)

func createAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, err)
			return
		}

		dentistID, err := parseUUID(req.DentistID, "dentist_id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		date, err := slot.ParseDate(req.AppointmentDate)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		var status appointment.Status
		if strings.TrimSpace(req.Status) != "" {
			if status, err = appointment.ParseStatus(req.Status); err != nil {
				handleError(w, r, log, err)
				return
			}
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.Draft{
			PatientName:    req.Patient,
			Phone:          req.Phone,
			DentistID:      dentistID,
			Date:           date,
			StartTime:      req.AppointmentTime,
			Treatment:      req.Treatment,
			Status:         status,
			Notes:          req.Notes,
			IdempotencyKey: firstNonEmpty(req.IdempotencyKey, r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		appts, err := svc.SearchAppointments(r.Context(), f)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		var req UpdateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, err)
			return
		}
		patch, err := req.patch()
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, patch)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		raw := r.URL.Query().Get("status")
		if raw == "" {
			var req StatusRequest
			if err := decodeJSON(r, &req); err != nil {
				handleError(w, r, log, err)
				return
			}
			raw = req.Status
		}
		status, err := appointment.ParseStatus(raw)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, status)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "appointment deleted"})
	}
}

func listStatusesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, appointment.Statuses)
}

func publishAvailabilityHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishAvailabilityRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, err)
			return
		}

		dentistID, err := parseUUID(req.DentistID, "dentist_id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		date, err := slot.ParseDate(req.Date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		a, err := svc.PublishAvailability(r.Context(), slot.Availability{
			DentistID: dentistID,
			Date:      date,
			TimeSlots: req.TimeSlots,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAvailabilityResponse(a))
	}
}

func getAvailabilityHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dentistID, err := parseUUID(chi.URLParam(r, "dentist_id"), "dentist_id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		date, err := slot.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		a, err := svc.GetAvailability(r.Context(), dentistID, date)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(a))
	}
}

func checkSlotHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dentistID, err := parseUUID(chi.URLParam(r, "dentist_id"), "dentist_id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		date, err := slot.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		ref, err := slot.NewRef(dentistID, date, chi.URLParam(r, "time"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		res, err := svc.CheckSlot(r.Context(), ref)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotCheckResponse{
			DentistID: ref.DentistID,
			Date:      ref.DateString(),
			Time:      ref.Start,
			Available: res == slot.CheckAvailable,
			Reason:    res.String(),
		})
	}
}

func submitTranscriptHandler(sink TranscriptSink, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TranscriptRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, err)
			return
		}
		if strings.TrimSpace(req.Transcript) == "" {
			handleError(w, r, log, fmt.Errorf("%w: transcript is required", apperr.ErrInvalid))
			return
		}

		if err := sink.OnTranscriptComplete(r.Context(), req.CallID, req.Transcript, req.Metadata); err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusAccepted, TranscriptAccepted{CallID: strings.TrimSpace(req.CallID), Status: "queued"})
	}
}

func getPatientHandler(patients PatientLookup, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		p, err := patients.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

func (req UpdateAppointmentRequest) patch() (appointment.Patch, error) {
	p := appointment.Patch{
		PatientName: req.Patient,
		Phone:       req.Phone,
		StartTime:   req.AppointmentTime,
		Treatment:   req.Treatment,
		Notes:       req.Notes,
	}
	if req.DentistID != nil {
		id, err := parseUUID(*req.DentistID, "dentist_id")
		if err != nil {
			return appointment.Patch{}, err
		}
		p.DentistID = &id
	}
	if req.AppointmentDate != nil {
		d, err := slot.ParseDate(*req.AppointmentDate)
		if err != nil {
			return appointment.Patch{}, err
		}
		p.Date = &d
	}
	if req.Status != nil {
		s, err := appointment.ParseStatus(*req.Status)
		if err != nil {
			return appointment.Patch{}, err
		}
		p.Status = &s
	}
	return p, nil
}

func parseFilter(r *http.Request) (appointment.Filter, error) {
	q := r.URL.Query()
	f := appointment.Filter{
		Patient:   strings.TrimSpace(q.Get("patient")),
		Treatment: strings.TrimSpace(q.Get("treatment")),
	}
	if v := q.Get("dentist_id"); v != "" {
		id, err := parseUUID(v, "dentist_id")
		if err != nil {
			return appointment.Filter{}, err
		}
		f.DentistID = &id
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"date_from", &f.DateFrom}, {"date_to", &f.DateTo}} {
		if v := q.Get(p.key); v != "" {
			d, err := slot.ParseDate(v)
			if err != nil {
				return appointment.Filter{}, err
			}
			*p.dst = &d
		}
	}
	if v := q.Get("status"); v != "" {
		s, err := appointment.ParseStatus(v)
		if err != nil {
			return appointment.Filter{}, err
		}
		f.Status = &s
	}
	return f, nil
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a valid UUID", apperr.ErrInvalid, field)
	}
	return id, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: could not parse JSON: %v", apperr.ErrInvalid, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// errorCode names the well-known failures; anything else is described by
// its kind.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return http.StatusConflict, "slot_being_booked"
	case errors.Is(err, appointment.ErrSlotAlreadyBooked),
		errors.Is(err, appointment.ErrSlotUnavailable):
		return http.StatusConflict, "slot_already_booked"
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		return http.StatusConflict, "invalid_status_transition"
	case errors.Is(err, appointment.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, slot.ErrAlreadyPublished):
		return http.StatusConflict, "availability_exists"
	case errors.Is(err, appointment.ErrSlotNotConfigured):
		return http.StatusBadRequest, "slot_not_configured"
	case errors.Is(err, appointment.ErrSlotNotInSchedule):
		return http.StatusBadRequest, "slot_not_in_schedule"
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found"
	case errors.Is(err, appointment.ErrDentistNotFound):
		return http.StatusNotFound, "dentist_not_found"
	case errors.Is(err, patient.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found"
	case errors.Is(err, slot.ErrNotConfigured):
		return http.StatusNotFound, "availability_not_found"
	}

	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.KindConflict:
		return http.StatusConflict, "conflict"
	case apperr.KindInvalid:
		return http.StatusBadRequest, "invalid_request"
	case apperr.KindTransient:
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	status, code := errorCode(err)
	details := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			details = "internal server error"
		}
	}
	writeError(w, status, code, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
