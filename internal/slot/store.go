package slot

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ClaimResult int

const (
	ClaimOK ClaimResult = iota
	ClaimNotFound
	ClaimAlreadyBooked
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimOK:
		return "ok"
	case ClaimNotFound:
		return "not_found"
	case ClaimAlreadyBooked:
		return "already_booked"
	default:
		return "unknown"
	}
}

type CheckResult int

const (
	CheckAvailable CheckResult = iota
	CheckNotConfigured
	CheckNotInSchedule
	CheckBooked
)

func (r CheckResult) String() string {
	switch r {
	case CheckAvailable:
		return "available"
	case CheckNotConfigured:
		return "not_configured"
	case CheckNotInSchedule:
		return "not_in_schedule"
	case CheckBooked:
		return "booked"
	default:
		return "unknown"
	}
}

// Store owns the per-(dentist, day) slot arrays.
//
// Claim is the only operation that must be atomic: of any number of
// concurrent Claims on one slot, at most one returns ClaimOK. Check is
// advisory and may be stale by the time the caller acts on it.
type Store interface {
	Claim(ctx context.Context, ref Ref) (ClaimResult, error)
	// Release marks the slot available again. Releasing an available slot is
	// a successful no-op; false means the slot does not exist.
	Release(ctx context.Context, ref Ref) (bool, error)
	Check(ctx context.Context, ref Ref) (CheckResult, error)

	Publish(ctx context.Context, a Availability) (*Availability, error)
	Get(ctx context.Context, dentistID uuid.UUID, date time.Time) (*Availability, error)
	// ListHeld returns unavailable slots on records not modified since
	// updatedBefore.
	ListHeld(ctx context.Context, updatedBefore time.Time) ([]Ref, error)
}

func checkSlots(a *Availability, start string) CheckResult {
	if a == nil {
		return CheckNotConfigured
	}
	i := a.Find(start)
	if i < 0 {
		return CheckNotInSchedule
	}
	if !a.TimeSlots[i].Available {
		return CheckBooked
	}
	return CheckAvailable
}
