package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// UnknownPhone is stored when a booking arrives without a phone number.
const UnknownPhone = "N/A"

// HoldsSlot reports whether an appointment in this status keeps its slot
// unavailable. Only confirmed appointments do.
func (s Status) HoldsSlot() bool {
	return s == StatusConfirmed
}

// IsTerminal reports whether the status may no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusNoShow
}

func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

var ErrInvalidStatus = fmt.Errorf("%w: invalid status", apperr.ErrInvalid)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == "no-show" {
		s = StatusNoShow
	}
	if !s.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

type StatusInfo struct {
	Value       Status `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Statuses lists every status in display order.
var Statuses = []StatusInfo{
	{StatusConfirmed, "Confirmed", "Appointment is confirmed and holds its time slot"},
	{StatusCancelled, "Cancelled", "Appointment was cancelled and its time slot released"},
	{StatusCompleted, "Completed", "Patient attended the appointment"},
	{StatusNoShow, "No Show", "Patient did not attend the appointment"},
	{StatusRescheduled, "Rescheduled", "Appointment was moved and its original time slot released"},
}

type Appointment struct {
	ID             uuid.UUID
	PatientName    string
	Phone          string
	DentistID      uuid.UUID
	Date           time.Time
	StartTime      string
	Treatment      string
	Status         Status
	Notes          *string
	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Appointment) SlotRef() slot.Ref {
	return slot.Ref{DentistID: a.DentistID, Date: slot.DateOnly(a.Date), Start: a.StartTime}
}

// Draft is a not yet persisted appointment.
type Draft struct {
	PatientName    string
	Phone          string
	DentistID      uuid.UUID
	Date           time.Time
	StartTime      string
	Treatment      string
	Status         Status
	Notes          *string
	IdempotencyKey string
}

func (d *Draft) SlotRef() slot.Ref {
	return slot.Ref{DentistID: d.DentistID, Date: slot.DateOnly(d.Date), Start: d.StartTime}
}

// normalize validates d and fills defaults. It returns a copy.
func (d Draft) normalize(defaultTreatment string) (Draft, error) {
	d.PatientName = strings.TrimSpace(d.PatientName)
	if d.PatientName == "" {
		return Draft{}, fmt.Errorf("%w: patient name is required", apperr.ErrInvalid)
	}
	if d.DentistID == uuid.Nil {
		return Draft{}, fmt.Errorf("%w: dentist_id is required", apperr.ErrInvalid)
	}
	if d.Date.IsZero() {
		return Draft{}, fmt.Errorf("%w: appointment_date is required", apperr.ErrInvalid)
	}
	d.Date = slot.DateOnly(d.Date)

	start, err := slot.NormalizeTime(d.StartTime)
	if err != nil {
		return Draft{}, err
	}
	d.StartTime = start

	if d.Status == "" {
		d.Status = StatusConfirmed
	}
	if !d.Status.Valid() {
		return Draft{}, fmt.Errorf("%w %q", ErrInvalidStatus, d.Status)
	}

	d.Phone = strings.TrimSpace(d.Phone)
	if d.Phone == "" {
		d.Phone = UnknownPhone
	}
	d.Treatment = strings.TrimSpace(d.Treatment)
	if d.Treatment == "" {
		d.Treatment = defaultTreatment
	}
	d.IdempotencyKey = strings.TrimSpace(d.IdempotencyKey)
	return d, nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	PatientName *string
	Phone       *string
	DentistID   *uuid.UUID
	Date        *time.Time
	StartTime   *string
	Treatment   *string
	Status      *Status
	Notes       *string
}

func (p Patch) IsEmpty() bool {
	return p.PatientName == nil && p.Phone == nil && p.DentistID == nil && p.Date == nil &&
		p.StartTime == nil && p.Treatment == nil && p.Status == nil && p.Notes == nil
}

// Apply returns a with the patch applied.
func (p Patch) Apply(a Appointment) Appointment {
	if p.PatientName != nil {
		a.PatientName = *p.PatientName
	}
	if p.Phone != nil {
		a.Phone = *p.Phone
	}
	if p.DentistID != nil {
		a.DentistID = *p.DentistID
	}
	if p.Date != nil {
		a.Date = slot.DateOnly(*p.Date)
	}
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.Treatment != nil {
		a.Treatment = *p.Treatment
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Notes != nil {
		n := *p.Notes
		a.Notes = &n
	}
	return a
}

// normalize validates the patch fields that are set.
func (p Patch) normalize() (Patch, error) {
	if p.PatientName != nil {
		name := strings.TrimSpace(*p.PatientName)
		if name == "" {
			return Patch{}, fmt.Errorf("%w: patient name may not be empty", apperr.ErrInvalid)
		}
		p.PatientName = &name
	}
	if p.Phone != nil {
		phone := strings.TrimSpace(*p.Phone)
		if phone == "" {
			phone = UnknownPhone
		}
		p.Phone = &phone
	}
	if p.DentistID != nil && *p.DentistID == uuid.Nil {
		return Patch{}, fmt.Errorf("%w: dentist_id may not be empty", apperr.ErrInvalid)
	}
	if p.Date != nil {
		d := slot.DateOnly(*p.Date)
		p.Date = &d
	}
	if p.StartTime != nil {
		start, err := slot.NormalizeTime(*p.StartTime)
		if err != nil {
			return Patch{}, err
		}
		p.StartTime = &start
	}
	if p.Status != nil && !p.Status.Valid() {
		return Patch{}, fmt.Errorf("%w %q", ErrInvalidStatus, *p.Status)
	}
	return p, nil
}

type Dentist struct {
	ID   uuid.UUID
	Name string
}

// Filter narrows Search. Zero fields match everything.
type Filter struct {
	Patient   string
	DentistID *uuid.UUID
	DateFrom  *time.Time
	DateTo    *time.Time
	Status    *Status
	Treatment string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
