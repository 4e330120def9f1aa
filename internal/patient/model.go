package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
)

const StatusActive = "active"

var (
	ErrPatientNotFound = fmt.Errorf("%w: patient not found", apperr.ErrNotFound)
	ErrInvalidPatient  = fmt.Errorf("%w: invalid patient", apperr.ErrInvalid)
)

type Patient struct {
	ID              uuid.UUID
	Name            string
	Email           string
	Phone           string
	DateOfBirth     *time.Time
	Status          string
	NextAppointment *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type NewPatient struct {
	Name        string
	Email       string
	Phone       string
	DateOfBirth *time.Time
}

func (n NewPatient) validate() (NewPatient, error) {
	n.Name = strings.TrimSpace(n.Name)
	n.Email = strings.TrimSpace(n.Email)
	n.Phone = strings.TrimSpace(n.Phone)
	if n.Name == "" || n.Phone == "" {
		return NewPatient{}, fmt.Errorf("%w: name and phone are required", ErrInvalidPatient)
	}
	return n, nil
}
