package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/appointment"
	"github.com/tunminster/by-the-app-demo/internal/directive"
	"github.com/tunminster/by-the-app-demo/internal/observability"
	"github.com/tunminster/by-the-app-demo/internal/patient"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

// Booker is the part of the booking engine the consumer drives.
type Booker interface {
	FindDentistByName(ctx context.Context, name string) (*appointment.Dentist, error)
	CreateAppointment(ctx context.Context, d appointment.Draft) (*appointment.Appointment, error)
}

// PatientRegistry finds and registers patients.
type PatientRegistry interface {
	Ensure(ctx context.Context, p patient.NewPatient) (*patient.Patient, bool, error)
	FindByName(ctx context.Context, name string) (*patient.Patient, error)
}

// Outcome reports what handling one event did. The two directives are
// independent: a failed patient registration does not stop the booking.
type Outcome struct {
	CallID         string
	Patient        *patient.Patient
	PatientCreated bool
	Appointment    *appointment.Appointment
	Errors         []error
}

type ConsumerOption func(*Consumer)

func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

func WithConsumerMetrics(m *observability.BookingMetrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

type Consumer struct {
	booker      Booker
	patients    PatientRegistry
	log         zerolog.Logger
	metrics     *observability.BookingMetrics
	tracer      trace.Tracer
	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(booker Booker, patients PatientRegistry, logger zerolog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		booker:      booker,
		patients:    patients,
		log:         logger.With().Str("component", "fulfillment").Logger(),
		tracer:      otel.Tracer("github.com/tunminster/by-the-app-demo/internal/pipeline"),
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drains every subscriber on its own goroutine until ctx is done or
// the subscribers are closed. Messages from one subscriber are handled
// one at a time, which keeps a call's events in order.
func (c *Consumer) Run(ctx context.Context, subs ...Subscriber) {
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(worker int, sub Subscriber) {
			defer wg.Done()
			c.drain(ctx, worker, sub)
		}(i, sub)
	}
	wg.Wait()
}

func (c *Consumer) drain(ctx context.Context, worker int, sub Subscriber) {
	log := c.log.With().Int("worker", worker).Logger()
	log.Info().Msg("fulfillment worker started")
	defer log.Info().Msg("fulfillment worker stopped")

	for {
		msg, err := sub.Fetch(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("fetch message")
			if !sleep(ctx, c.backoff) {
				return
			}
			continue
		}

		ev, err := DecodeEvent(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("key", msg.Key).Bytes("payload", msg.Value).Msg("dropping malformed event")
		} else {
			c.Handle(ctx, ev)
		}

		// leave the message unacked so the backend redelivers it
		if ctx.Err() != nil {
			return
		}
		if err := msg.Ack(ctx); err != nil {
			log.Error().Err(err).Str("key", msg.Key).Msg("ack message")
		}
	}
}

// Handle extracts directives from ev and fulfills them.
func (c *Consumer) Handle(ctx context.Context, ev TranscriptEvent) Outcome {
	out := Outcome{CallID: ev.CallID}
	ctx, span := c.tracer.Start(ctx, "pipeline.Handle", trace.WithAttributes(
		attribute.String("call_id", ev.CallID),
		attribute.String("response_type", ev.ResponseType),
	))
	defer func() {
		span.SetAttributes(attribute.Int("errors", len(out.Errors)))
		span.End()
	}()
	log := c.log.With().Str("call_id", ev.CallID).Str("response_type", ev.ResponseType).Logger()

	var res directive.Result
	switch ev.ResponseType {
	case ResponseTypeAI:
		res = directive.Extract(ev.Data.RawText)
	case ResponseTypePatientCreation:
		p, err := directive.DecodePatient(ev.Directive)
		if err != nil {
			res.Problems = append(res.Problems, directive.Problem{Kind: directive.KindPatientCreation, Err: err})
		}
		res.Patient = p
	case ResponseTypeBookingConfirmation:
		b, err := directive.DecodeBooking(ev.Directive)
		if err != nil {
			res.Problems = append(res.Problems, directive.Problem{Kind: directive.KindBooking, Err: err})
		}
		res.Booking = b
	default:
		log.Warn().Msg("unknown response type, skipping")
		return out
	}

	for _, p := range res.Problems {
		c.metrics.ObserveDirective(p.Kind.String(), string(apperr.KindInvalid))
		log.Warn().Err(p.Err).Str("directive", p.Kind.String()).Str("raw_text", ev.Data.RawText).Msg("malformed directive")
		out.Errors = append(out.Errors, p)
	}
	if res.Empty() {
		if len(res.Problems) == 0 {
			log.Debug().Msg("no directives in reply")
		}
		return out
	}

	if res.Patient != nil {
		p, created, err := c.registerPatient(ctx, res.Patient)
		c.observe(directive.KindPatientCreation, err)
		if err != nil {
			log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).
				Interface("payload", res.Patient).Msg("patient registration failed")
			out.Errors = append(out.Errors, err)
		} else {
			out.Patient, out.PatientCreated = p, created
			log.Info().Str("patient_id", p.ID.String()).Bool("created", created).Msg("patient registered")
		}
	}

	if res.Booking != nil {
		appt, err := c.book(ctx, ev.CallID, res.Booking, res.Patient)
		c.observe(directive.KindBooking, err)
		if err != nil {
			log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).
				Interface("payload", res.Booking).Msg("booking failed")
			out.Errors = append(out.Errors, err)
		} else {
			out.Appointment = appt
			log.Info().Str("appointment_id", appt.ID.String()).Str("slot", appt.SlotRef().Key()).Msg("booking fulfilled")
		}
	}

	return out
}

func (c *Consumer) registerPatient(ctx context.Context, d *directive.PatientCreation) (*patient.Patient, bool, error) {
	dob, err := d.BirthDate()
	if err != nil {
		return nil, false, err
	}

	var (
		p       *patient.Patient
		created bool
	)
	err = c.retry(ctx, func(ctx context.Context) error {
		var err error
		p, created, err = c.patients.Ensure(ctx, patient.NewPatient{
			Name:        d.Name,
			Email:       d.Email,
			Phone:       d.Phone,
			DateOfBirth: dob,
		})
		return err
	})
	return p, created, err
}

func (c *Consumer) book(ctx context.Context, callID string, b *directive.Booking, pc *directive.PatientCreation) (*appointment.Appointment, error) {
	date, start, err := b.Slot()
	if err != nil {
		return nil, err
	}
	phone := c.bookingPhone(ctx, b, pc)
	key := BookingKey(callID, b)

	var appt *appointment.Appointment
	err = c.retry(ctx, func(ctx context.Context) error {
		dentist, err := c.booker.FindDentistByName(ctx, b.Dentist)
		if err != nil {
			return err
		}
		appt, err = c.booker.CreateAppointment(ctx, appointment.Draft{
			PatientName:    b.PatientName,
			Phone:          phone,
			DentistID:      dentist.ID,
			Date:           date,
			StartTime:      start,
			Treatment:      b.Treatment,
			Status:         appointment.StatusConfirmed,
			IdempotencyKey: key,
		})
		return err
	})
	return appt, err
}

// bookingPhone prefers the phone given in the same reply, then the
// booking's own phone, then a patient already registered under the name.
func (c *Consumer) bookingPhone(ctx context.Context, b *directive.Booking, pc *directive.PatientCreation) string {
	if pc != nil && strings.TrimSpace(pc.Phone) != "" {
		return strings.TrimSpace(pc.Phone)
	}
	if b.Phone != "" && b.Phone != appointment.UnknownPhone {
		return b.Phone
	}
	p, err := c.patients.FindByName(ctx, b.PatientName)
	if err == nil && p.Phone != "" {
		return p.Phone
	}
	if err != nil && !errors.Is(err, patient.ErrPatientNotFound) {
		c.log.Warn().Err(err).Str("patient_name", b.PatientName).Msg("patient lookup for booking phone")
	}
	return appointment.UnknownPhone
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// runs out of attempts. The wait grows linearly with the attempt number.
func (c *Consumer) retry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !apperr.IsTransient(err) {
			return err
		}
		if attempt == c.maxAttempts {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("transient failure, retrying")
		if !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
	return err
}

func (c *Consumer) observe(kind directive.Kind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	c.metrics.ObserveDirective(kind.String(), outcome)
}

// BookingKey derives the idempotency key of a voice booking, so a
// redelivered event books at most once.
func BookingKey(callID string, b *directive.Booking) string {
	date, start := b.Date, b.Time
	if d, t, err := b.Slot(); err == nil {
		date, start = d.Format(slot.DateLayout), t
	}
	canonical := strings.Join([]string{
		strings.TrimSpace(callID),
		strings.ToLower(strings.TrimSpace(b.Dentist)),
		date,
		start,
		strings.ToLower(strings.TrimSpace(b.PatientName)),
	}, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
