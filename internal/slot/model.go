package slot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidTime       = fmt.Errorf("%w: time must be HH:MM", apperr.ErrInvalid)
	ErrInvalidDate       = fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrInvalid)
	ErrInvalidSlots      = fmt.Errorf("%w: invalid time slots", apperr.ErrInvalid)
	ErrAlreadyPublished  = fmt.Errorf("%w: availability already exists for this dentist on this date", apperr.ErrConflict)
	ErrNotConfigured     = fmt.Errorf("%w: availability is not configured for this dentist on the selected date", apperr.ErrNotFound)
	ErrAvailabilityEmpty = fmt.Errorf("%w: availability must contain at least one time slot", apperr.ErrInvalid)
)

// TimeSlot is one entry of a day's schedule. Start is the natural key within
// the day.
type TimeSlot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

// Availability is the published schedule of one dentist for one day.
type Availability struct {
	ID        uuid.UUID
	DentistID uuid.UUID
	Date      time.Time
	TimeSlots []TimeSlot
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Find returns the index of the slot starting at start, or -1.
func (a *Availability) Find(start string) int {
	for i, s := range a.TimeSlots {
		if s.Start == start {
			return i
		}
	}
	return -1
}

// Ref identifies a slot by (dentist, day, start time).
type Ref struct {
	DentistID uuid.UUID
	Date      time.Time
	Start     string
}

func NewRef(dentistID uuid.UUID, date time.Time, start string) (Ref, error) {
	norm, err := NormalizeTime(start)
	if err != nil {
		return Ref{}, err
	}
	return Ref{DentistID: dentistID, Date: DateOnly(date), Start: norm}, nil
}

func (r Ref) DateString() string {
	return r.Date.Format(DateLayout)
}

// Key is a stable string form, used for lock names and map keys.
func (r Ref) Key() string {
	return r.DentistID.String() + ":" + r.DateString() + ":" + r.Start
}

func (r Ref) Equal(o Ref) bool {
	return r.DentistID == o.DentistID && r.DateString() == o.DateString() && r.Start == o.Start
}

func (r Ref) String() string {
	return fmt.Sprintf("dentist=%s date=%s time=%s", r.DentistID, r.DateString(), r.Start)
}

// DateOnly drops the clock part and the location so dates compare by day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t, nil
}

// NormalizeTime accepts H:MM, HH:MM and HH:MM:SS and returns HH:MM.
func NormalizeTime(raw string) (string, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 || len(parts[0]) > 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	if len(parts) == 3 {
		if s, err := strconv.Atoi(parts[2]); err != nil || s < 0 || s > 59 {
			return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
		}
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// NormalizeSlots validates a schedule before it is published and returns a
// copy with normalized times.
func NormalizeSlots(in []TimeSlot) ([]TimeSlot, error) {
	if len(in) == 0 {
		return nil, ErrAvailabilityEmpty
	}
	out := make([]TimeSlot, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		start, err := NormalizeTime(s.Start)
		if err != nil {
			return nil, err
		}
		end, err := NormalizeTime(s.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, fmt.Errorf("%w: slot %s ends at %s", ErrInvalidSlots, start, end)
		}
		if _, dup := seen[start]; dup {
			return nil, fmt.Errorf("%w: duplicate start %s", ErrInvalidSlots, start)
		}
		seen[start] = struct{}{}
		out = append(out, TimeSlot{Start: start, End: end, Available: s.Available})
	}
	return out, nil
}
