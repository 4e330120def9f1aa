package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept in process memory. A single mutex serializes
// every mutation, which gives Claim the same all-or-nothing behaviour as the
// conditional UPDATE in PgStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Availability
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Availability),
		now:     time.Now,
	}
}

func recordKey(dentistID uuid.UUID, date time.Time) string {
	return dentistID.String() + ":" + DateOnly(date).Format(DateLayout)
}

func (m *MemoryStore) Claim(_ context.Context, ref Ref) (ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.records[recordKey(ref.DentistID, ref.Date)]
	if a == nil {
		return ClaimNotFound, nil
	}
	i := a.Find(ref.Start)
	if i < 0 {
		return ClaimNotFound, nil
	}
	if !a.TimeSlots[i].Available {
		return ClaimAlreadyBooked, nil
	}
	a.TimeSlots[i].Available = false
	a.UpdatedAt = m.now()
	return ClaimOK, nil
}

func (m *MemoryStore) Release(_ context.Context, ref Ref) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.records[recordKey(ref.DentistID, ref.Date)]
	if a == nil {
		return false, nil
	}
	i := a.Find(ref.Start)
	if i < 0 {
		return false, nil
	}
	if !a.TimeSlots[i].Available {
		a.TimeSlots[i].Available = true
		a.UpdatedAt = m.now()
	}
	return true, nil
}

func (m *MemoryStore) Check(_ context.Context, ref Ref) (CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return checkSlots(m.records[recordKey(ref.DentistID, ref.Date)], ref.Start), nil
}

func (m *MemoryStore) Publish(_ context.Context, a Availability) (*Availability, error) {
	slots, err := NormalizeSlots(a.TimeSlots)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(a.DentistID, a.Date)
	if _, exists := m.records[key]; exists {
		return nil, ErrAlreadyPublished
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := m.now()
	a.Date = DateOnly(a.Date)
	a.TimeSlots = slots
	a.CreatedAt = now
	a.UpdatedAt = now
	m.records[key] = &a
	return copyAvailability(&a), nil
}

func (m *MemoryStore) Get(_ context.Context, dentistID uuid.UUID, date time.Time) (*Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.records[recordKey(dentistID, date)]
	if a == nil {
		return nil, ErrNotConfigured
	}
	return copyAvailability(a), nil
}

func (m *MemoryStore) ListHeld(_ context.Context, updatedBefore time.Time) ([]Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []Ref
	for _, a := range m.records {
		if !a.UpdatedAt.Before(updatedBefore) {
			continue
		}
		for _, s := range a.TimeSlots {
			if !s.Available {
				refs = append(refs, Ref{DentistID: a.DentistID, Date: a.Date, Start: s.Start})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key() < refs[j].Key() })
	return refs, nil
}

// SetClock replaces the time source; tests use it to age records past the
// reconciliation grace window.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Override forces a slot flag without any checks. It exists to simulate
// crashes between a claim and the ledger write.
func (m *MemoryStore) Override(ref Ref, available bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.records[recordKey(ref.DentistID, ref.Date)]
	if a == nil {
		return false
	}
	i := a.Find(ref.Start)
	if i < 0 {
		return false
	}
	a.TimeSlots[i].Available = available
	a.UpdatedAt = m.now()
	return true
}

func copyAvailability(a *Availability) *Availability {
	c := *a
	c.TimeSlots = append([]TimeSlot(nil), a.TimeSlots...)
	return &c
}
