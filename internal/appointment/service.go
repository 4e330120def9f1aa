package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/observability"
	redisclient "github.com/tunminster/by-the-app-demo/internal/redis"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventSlotReconciled           = "SLOT_RECONCILED"
)

var (
	ErrSlotNotConfigured       = fmt.Errorf("%w: availability is not configured for this dentist on the selected date", apperr.ErrInvalid)
	ErrSlotNotInSchedule       = fmt.Errorf("%w: requested time slot is not available in the schedule", apperr.ErrInvalid)
	ErrSlotUnavailable         = fmt.Errorf("%w: requested time slot has already been booked", apperr.ErrConflict)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", apperr.ErrConflict)
)

// PatientProjector keeps the patient records' derived fields current.
type PatientProjector interface {
	Refresh(ctx context.Context, name, phone string) error
}

type Option func(*Service)

func WithProjector(p PatientProjector) Option {
	return func(s *Service) { s.projector = p }
}

func WithMetrics(m *observability.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the consistency engine. It keeps the slot store and the
// appointment ledger in agreement: a confirmed appointment's slot is
// unavailable and every other slot is available.
type Service struct {
	repo      Repository
	slots     slot.Store
	locker    redisclient.Locker
	projector PatientProjector
	metrics   *observability.BookingMetrics
	cfg       config.Config
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(repo Repository, slots slot.Store, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger, opts ...Option) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	s := &Service{
		repo:   repo,
		slots:  slots,
		locker: locker,
		cfg:    cfg,
		log:    logger.With().Str("component", "booking").Logger(),
		tracer: otel.Tracer("github.com/tunminster/by-the-app-demo/internal/appointment"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAppointment books a draft. When the draft's status holds a slot the
// slot is claimed first and the ledger row written second; if the write
// fails the claim is released again.
func (s *Service) CreateAppointment(ctx context.Context, d Draft) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.CreateAppointment")
	defer s.finish(span, "create", s.now(), &err)

	draft, err := d.normalize(s.cfg.DefaultTreatment)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("slot", draft.SlotRef().Key()))

	if draft.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, draft.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	if _, err := s.repo.GetDentistByID(ctx, draft.DentistID); err != nil {
		return nil, err
	}

	var created *Appointment
	if !draft.Status.HoldsSlot() {
		created, err = s.repo.Insert(ctx, draft)
	} else {
		ref := draft.SlotRef()
		err = s.locker.WithSlotLock(ctx, ref.Key(), func(lockCtx context.Context) error {
			if err := s.reserve(lockCtx, ref, nil); err != nil {
				return err
			}
			a, err := s.repo.Insert(lockCtx, draft)
			if err != nil {
				s.compensate(lockCtx, ref, "create", err)
				return err
			}
			created = a
			return nil
		})
	}
	if err != nil {
		if existing := s.replayed(ctx, draft.IdempotencyKey, err); existing != nil {
			return existing, nil
		}
		return nil, err
	}

	s.refreshPatient(ctx, created.PatientName, created.Phone)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"dentist_id": created.DentistID.String(),
		"date":       created.SlotRef().DateString(),
		"time":       created.StartTime,
		"status":     created.Status,
	})

	return created, nil
}

// replayed returns the appointment already recorded under key when err is
// the kind of conflict a concurrent redelivery of the same booking causes.
func (s *Service) replayed(ctx context.Context, key string, err error) *Appointment {
	if key == "" || apperr.KindOf(err) != apperr.KindConflict {
		return nil
	}
	existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, key)
	if lookupErr != nil {
		return nil
	}
	return existing
}

// UpdateAppointment applies a partial update. A move to a new slot, or back
// into a slot-holding status, claims the new slot before the row changes;
// the old slot is released only after the row is written.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, p Patch) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.UpdateAppointment",
		trace.WithAttributes(attribute.String("appointment_id", id.String())))
	defer s.finish(span, "update", s.now(), &err)

	return s.update(ctx, id, p, EventAppointmentUpdated)
}

// UpdateStatus changes only the status. Setting the current status again is
// a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.UpdateStatus",
		trace.WithAttributes(
			attribute.String("appointment_id", id.String()),
			attribute.String("status", string(status)),
		))
	defer s.finish(span, "update_status", s.now(), &err)

	return s.update(ctx, id, Patch{Status: &status}, EventAppointmentStatusChanged)
}

func (s *Service) update(ctx context.Context, id uuid.UUID, p Patch, eventType string) (*Appointment, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsEmpty() {
		return current, nil
	}

	p, err = p.normalize()
	if err != nil {
		return nil, err
	}
	if p.DentistID != nil && *p.DentistID != current.DentistID {
		if _, err := s.repo.GetDentistByID(ctx, *p.DentistID); err != nil {
			return nil, err
		}
	}

	next := p.Apply(*current)
	if current.Status.IsTerminal() && next.Status != current.Status {
		return nil, fmt.Errorf("%w: %s appointment cannot become %s", ErrInvalidStatusTransition, current.Status, next.Status)
	}
	if next == *current && p.Notes == nil {
		return current, nil
	}

	oldRef, newRef := current.SlotRef(), next.SlotRef()
	slotChanged := !oldRef.Equal(newRef)
	needsClaim := next.Status.HoldsSlot() && (slotChanged || !current.Status.HoldsSlot())
	releaseOld := current.Status.HoldsSlot() && (slotChanged || !next.Status.HoldsSlot())

	var updated *Appointment
	if needsClaim {
		err = s.locker.WithSlotLock(ctx, newRef.Key(), func(lockCtx context.Context) error {
			if err := s.reserve(lockCtx, newRef, &current.ID); err != nil {
				return err
			}
			a, err := s.repo.UpdateFields(lockCtx, id, p)
			if err != nil {
				s.compensate(lockCtx, newRef, "update", err)
				return err
			}
			updated = a
			return nil
		})
	} else {
		updated, err = s.repo.UpdateFields(ctx, id, p)
	}
	if err != nil {
		return nil, err
	}

	if releaseOld {
		s.release(ctx, oldRef, current.ID, "update")
	}

	s.refreshPatient(ctx, current.PatientName, current.Phone)
	if updated.PatientName != current.PatientName || updated.Phone != current.Phone {
		s.refreshPatient(ctx, updated.PatientName, updated.Phone)
	}

	s.logEvent(ctx, updated.ID, eventType, map[string]any{
		"from_status": current.Status,
		"to_status":   updated.Status,
		"from_slot":   oldRef.Key(),
		"to_slot":     updated.SlotRef().Key(),
	})

	return updated, nil
}

// DeleteAppointment removes an appointment and frees its slot if it held one.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.DeleteAppointment",
		trace.WithAttributes(attribute.String("appointment_id", id.String())))
	defer s.finish(span, "delete", s.now(), &err)

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if deleted.Status.HoldsSlot() {
		s.release(ctx, deleted.SlotRef(), deleted.ID, "delete")
	}

	s.refreshPatient(ctx, deleted.PatientName, deleted.Phone)
	s.logEvent(ctx, deleted.ID, EventAppointmentDeleted, map[string]any{
		"slot":   deleted.SlotRef().Key(),
		"status": deleted.Status,
	})
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) SearchAppointments(ctx context.Context, f Filter) ([]Appointment, error) {
	return s.repo.Search(ctx, f)
}

func (s *Service) GetAvailability(ctx context.Context, dentistID uuid.UUID, date time.Time) (*slot.Availability, error) {
	return s.slots.Get(ctx, dentistID, date)
}

// CheckSlot is advisory: the answer may be stale by the time it is used.
func (s *Service) CheckSlot(ctx context.Context, ref slot.Ref) (slot.CheckResult, error) {
	return s.slots.Check(ctx, ref)
}

func (s *Service) PublishAvailability(ctx context.Context, a slot.Availability) (*slot.Availability, error) {
	if _, err := s.repo.GetDentistByID(ctx, a.DentistID); err != nil {
		return nil, err
	}
	return s.slots.Publish(ctx, a)
}

func (s *Service) FindDentistByName(ctx context.Context, name string) (*Dentist, error) {
	return s.repo.FindDentistByName(ctx, name)
}

// reserve runs the ledger pre-flight and claims ref. The ledger check can
// only reject; the claim decides.
func (s *Service) reserve(ctx context.Context, ref slot.Ref, excludeID *uuid.UUID) error {
	conflict, err := s.repo.FindActiveConflict(ctx, ref, excludeID)
	if err != nil {
		return err
	}
	if conflict != nil {
		return fmt.Errorf("%w (appointment %s)", ErrSlotAlreadyBooked, conflict.ID)
	}

	check, err := s.slots.Check(ctx, ref)
	if err != nil {
		return err
	}
	switch check {
	case slot.CheckNotConfigured:
		return ErrSlotNotConfigured
	case slot.CheckNotInSchedule:
		return ErrSlotNotInSchedule
	case slot.CheckBooked:
		return ErrSlotUnavailable
	}

	res, err := s.slots.Claim(ctx, ref)
	if err != nil {
		return err
	}
	s.metrics.ObserveClaim(res.String())
	switch res {
	case slot.ClaimNotFound:
		return ErrSlotNotInSchedule
	case slot.ClaimAlreadyBooked:
		return ErrSlotUnavailable
	}
	return nil
}

// compensate undoes a claim whose ledger write failed.
func (s *Service) compensate(ctx context.Context, ref slot.Ref, op string, cause error) {
	if errors.Is(cause, ErrSlotAlreadyBooked) {
		// another confirmed row owns the slot, so the flag is already right
		s.log.Warn().AnErr("cause", cause).Str("op", op).Str("slot", ref.Key()).Msg("ledger already holds slot")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	ok, err := s.slots.Release(ctx, ref)
	s.metrics.ObserveCompensation(err == nil && ok)
	if err != nil || !ok {
		s.log.Error().
			Err(err).
			AnErr("cause", cause).
			Str("op", op).
			Str("slot", ref.Key()).
			Str("outcome", string(apperr.KindInconsistent)).
			Msg("compensating slot release failed")
		return
	}
	s.log.Warn().
		AnErr("cause", cause).
		Str("op", op).
		Str("slot", ref.Key()).
		Msg("ledger write failed, slot claim released")
}

// release frees a slot after the ledger has already moved on. A failure
// leaves the slot unavailable until the reconciliation sweep repairs it.
func (s *Service) release(ctx context.Context, ref slot.Ref, appointmentID uuid.UUID, op string) {
	ok, err := s.slots.Release(context.WithoutCancel(ctx), ref)
	if err == nil && ok {
		return
	}
	s.log.Error().
		Err(err).
		Str("op", op).
		Str("appointment_id", appointmentID.String()).
		Str("slot", ref.Key()).
		Bool("slot_exists", ok).
		Str("outcome", string(apperr.KindInconsistent)).
		Msg("slot release failed")
	s.metrics.ObserveOperation(op, string(apperr.KindInconsistent), 0)
}

func (s *Service) refreshPatient(ctx context.Context, name, phone string) {
	if s.projector == nil {
		return
	}
	if err := s.projector.Refresh(ctx, name, phone); err != nil {
		s.log.Warn().Err(err).Str("patient", name).Msg("refresh patient next appointment")
	}
}

func (s *Service) finish(span trace.Span, op string, start time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.ObserveOperation(op, outcome, s.now().Sub(start).Seconds())
	span.End()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	var apptID *uuid.UUID
	if appointmentID != uuid.Nil {
		apptID = &appointmentID
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
