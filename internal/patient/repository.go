package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	FindByPhone(ctx context.Context, phone string) (*Patient, error)
	// FindByName matches case-insensitively and returns the oldest record.
	FindByName(ctx context.Context, name string) (*Patient, error)
	// Create inserts p unless its phone is already registered, in which case
	// it returns ErrPatientNotFound and the caller looks the record up.
	Create(ctx context.Context, p NewPatient) (*Patient, error)
	SetNextAppointment(ctx context.Context, id uuid.UUID, next *time.Time) error
}

// NextAppointmentFinder reports the earliest slot-holding appointment date
// for a patient identity.
type NextAppointmentFinder interface {
	EarliestBookedDate(ctx context.Context, phone, name string) (*time.Time, error)
}
