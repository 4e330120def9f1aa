package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/tunminster/by-the-app-demo/internal/appointment"
	"github.com/tunminster/by-the-app-demo/internal/patient"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

type CreateAppointmentRequest struct {
	Patient         string  `json:"patient"`
	Phone           string  `json:"phone"`
	DentistID       string  `json:"dentist_id"`
	AppointmentDate string  `json:"appointment_date"`
	AppointmentTime string  `json:"appointment_time"`
	Treatment       string  `json:"treatment"`
	Status          string  `json:"status"`
	Notes           *string `json:"notes"`
	IdempotencyKey  string  `json:"idempotency_key"`
}

// UpdateAppointmentRequest is a partial update; absent fields are kept.
type UpdateAppointmentRequest struct {
	Patient         *string `json:"patient"`
	Phone           *string `json:"phone"`
	DentistID       *string `json:"dentist_id"`
	AppointmentDate *string `json:"appointment_date"`
	AppointmentTime *string `json:"appointment_time"`
	Treatment       *string `json:"treatment"`
	Status          *string `json:"status"`
	Notes           *string `json:"notes"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	Patient         string    `json:"patient"`
	Phone           string    `json:"phone"`
	DentistID       uuid.UUID `json:"dentist_id"`
	AppointmentDate string    `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	Treatment       string    `json:"treatment"`
	Status          string    `json:"status"`
	Notes           *string   `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		Patient:         a.PatientName,
		Phone:           a.Phone,
		DentistID:       a.DentistID,
		AppointmentDate: a.Date.Format(slot.DateLayout),
		AppointmentTime: a.StartTime,
		Treatment:       a.Treatment,
		Status:          string(a.Status),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type PublishAvailabilityRequest struct {
	DentistID string          `json:"dentist_id"`
	Date      string          `json:"date"`
	TimeSlots []slot.TimeSlot `json:"time_slots"`
}

type AvailabilityResponse struct {
	ID        uuid.UUID       `json:"id"`
	DentistID uuid.UUID       `json:"dentist_id"`
	Date      string          `json:"date"`
	TimeSlots []slot.TimeSlot `json:"time_slots"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toAvailabilityResponse(a *slot.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:        a.ID,
		DentistID: a.DentistID,
		Date:      a.Date.Format(slot.DateLayout),
		TimeSlots: a.TimeSlots,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type SlotCheckResponse struct {
	DentistID uuid.UUID `json:"dentist_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason"`
}

type TranscriptRequest struct {
	CallID     string         `json:"call_id"`
	Transcript string         `json:"transcript"`
	Metadata   map[string]any `json:"metadata"`
}

type TranscriptAccepted struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

type PatientResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	DateOfBirth     *string   `json:"date_of_birth"`
	Status          string    `json:"status"`
	NextAppointment *string   `json:"next_appointment"`
}

func toPatientResponse(p *patient.Patient) PatientResponse {
	return PatientResponse{
		ID:              p.ID,
		Name:            p.Name,
		Email:           p.Email,
		Phone:           p.Phone,
		DateOfBirth:     formatDate(p.DateOfBirth),
		Status:          p.Status,
		NextAppointment: formatDate(p.NextAppointment),
	}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(slot.DateLayout)
	return &s
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
