package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tunminster/by-the-app-demo/internal/slot"
)

// fakeRepo is an in-memory ledger that enforces the same unique
// constraints as the schema.
type fakeRepo struct {
	mu           sync.Mutex
	dentists     map[uuid.UUID]Dentist
	appointments map[uuid.UUID]Appointment
	events       []EventLog

	insertErr error
	updateErr error
}

func newFakeRepo(dentists ...Dentist) *fakeRepo {
	r := &fakeRepo{
		dentists:     make(map[uuid.UUID]Dentist),
		appointments: make(map[uuid.UUID]Appointment),
	}
	for _, d := range dentists {
		r.dentists[d.ID] = d
	}
	return r
}

func (r *fakeRepo) GetDentistByID(_ context.Context, id uuid.UUID) (*Dentist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dentists[id]
	if !ok {
		return nil, ErrDentistNotFound
	}
	return &d, nil
}

func (r *fakeRepo) FindDentistByName(_ context.Context, name string) (*Dentist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dentists {
		if strings.EqualFold(d.Name, name) || stripHonorific(d.Name) == stripHonorific(name) {
			return &d, nil
		}
	}
	return nil, ErrDentistNotFound
}

// holderLocked must be called with r.mu held.
func (r *fakeRepo) holderLocked(ref slot.Ref, exclude uuid.UUID) *Appointment {
	for _, a := range r.appointments {
		if a.ID != exclude && a.Status.HoldsSlot() && a.SlotRef().Equal(ref) {
			return &a
		}
	}
	return nil
}

func (r *fakeRepo) Insert(_ context.Context, d Draft) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	if d.IdempotencyKey != "" {
		for _, a := range r.appointments {
			if a.IdempotencyKey != nil && *a.IdempotencyKey == d.IdempotencyKey {
				return nil, ErrDuplicateIdempotencyKey
			}
		}
	}
	if d.Status.HoldsSlot() && r.holderLocked(d.SlotRef(), uuid.Nil) != nil {
		return nil, ErrSlotAlreadyBooked
	}
	now := time.Now()
	a := Appointment{
		ID:          uuid.New(),
		PatientName: d.PatientName,
		Phone:       d.Phone,
		DentistID:   d.DentistID,
		Date:        slot.DateOnly(d.Date),
		StartTime:   d.StartTime,
		Treatment:   d.Treatment,
		Status:      d.Status,
		Notes:       d.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.IdempotencyKey != "" {
		key := d.IdempotencyKey
		a.IdempotencyKey = &key
	}
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *fakeRepo) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *fakeRepo) UpdateFields(_ context.Context, id uuid.UUID, p Patch) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	next := p.Apply(a)
	if next.Status.HoldsSlot() && r.holderLocked(next.SlotRef(), id) != nil {
		return nil, ErrSlotAlreadyBooked
	}
	next.UpdatedAt = time.Now()
	r.appointments[id] = next
	return &next, nil
}

func (r *fakeRepo) Delete(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return &a, nil
}

func (r *fakeRepo) Search(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.DentistID != nil && a.DentistID != *f.DentistID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *fakeRepo) FindActiveConflict(_ context.Context, ref slot.Ref, excludeID *uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exclude := uuid.Nil
	if excludeID != nil {
		exclude = *excludeID
	}
	return r.holderLocked(ref, exclude), nil
}

func (r *fakeRepo) FindByIdempotencyKey(_ context.Context, key string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.IdempotencyKey != nil && *a.IdempotencyKey == key {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) EarliestBookedDate(_ context.Context, phone, name string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var earliest *time.Time
	for _, a := range r.appointments {
		if !a.Status.HoldsSlot() {
			continue
		}
		if !(phone != "" && phone != UnknownPhone && a.Phone == phone) && !strings.EqualFold(a.PatientName, name) {
			continue
		}
		if earliest == nil || a.Date.Before(*earliest) {
			d := a.Date
			earliest = &d
		}
	}
	return earliest, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

func (r *fakeRepo) all() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, a)
	}
	return out
}
