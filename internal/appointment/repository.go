package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

var (
	ErrAppointmentNotFound     = fmt.Errorf("%w: appointment not found", apperr.ErrNotFound)
	ErrDentistNotFound         = fmt.Errorf("%w: dentist not found", apperr.ErrNotFound)
	ErrSlotAlreadyBooked       = fmt.Errorf("%w: time slot is already booked for this dentist", apperr.ErrConflict)
	ErrDuplicateIdempotencyKey = fmt.Errorf("%w: idempotency key already used", apperr.ErrConflict)
)

// Repository is the appointment ledger. None of its methods touch slots.
type Repository interface {
	GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error)
	// FindDentistByName matches case-insensitively and ignores a leading
	// "Dr." when there is no exact match.
	FindDentistByName(ctx context.Context, name string) (*Dentist, error)

	Insert(ctx context.Context, d Draft) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateFields(ctx context.Context, id uuid.UUID, p Patch) (*Appointment, error)
	// Delete removes the row and returns it as it was.
	Delete(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Search(ctx context.Context, f Filter) ([]Appointment, error)

	// FindActiveConflict returns a slot-holding appointment on ref other
	// than excludeID, or nil when there is none.
	FindActiveConflict(ctx context.Context, ref slot.Ref, excludeID *uuid.UUID) (*Appointment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Appointment, error)

	// EarliestBookedDate is the date of the earliest slot-holding
	// appointment matching phone or name, or nil.
	EarliestBookedDate(ctx context.Context, phone, name string) (*time.Time, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
