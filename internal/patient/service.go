package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// unknownPhone mirrors the placeholder stored on appointments booked without
// a phone number.
const unknownPhone = "N/A"

type Service struct {
	repo   Repository
	finder NextAppointmentFinder
	log    zerolog.Logger
}

func NewService(repo Repository, finder NextAppointmentFinder, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		finder: finder,
		log:    logger.With().Str("component", "patients").Logger(),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) FindByName(ctx context.Context, name string) (*Patient, error) {
	return s.repo.FindByName(ctx, name)
}

// Ensure returns the patient registered under p.Phone, creating it first if
// needed. created is false when the phone was already known, including when
// a concurrent caller registered it first.
func (s *Service) Ensure(ctx context.Context, p NewPatient) (patient *Patient, created bool, err error) {
	p, err = p.validate()
	if err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByPhone(ctx, p.Phone)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrPatientNotFound) {
		return nil, false, err
	}

	patient, err = s.repo.Create(ctx, p)
	if errors.Is(err, ErrPatientNotFound) {
		// lost the race on the phone unique constraint
		existing, err := s.repo.FindByPhone(ctx, p.Phone)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}

	s.log.Info().Str("patient_id", patient.ID.String()).Str("name", patient.Name).Msg("patient created")
	if err := s.Refresh(ctx, patient.Name, patient.Phone); err != nil {
		s.log.Warn().Err(err).Str("patient_id", patient.ID.String()).Msg("refresh next appointment")
	}
	return patient, true, nil
}

// Refresh recomputes next_appointment for the patient identified by phone,
// or by name when the phone is unknown. A patient with no record is
// ignored.
func (s *Service) Refresh(ctx context.Context, name, phone string) error {
	p, err := s.locate(ctx, name, phone)
	if errors.Is(err, ErrPatientNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	next, err := s.finder.EarliestBookedDate(ctx, p.Phone, p.Name)
	if err != nil {
		return err
	}
	return s.repo.SetNextAppointment(ctx, p.ID, next)
}

func (s *Service) locate(ctx context.Context, name, phone string) (*Patient, error) {
	phone = strings.TrimSpace(phone)
	if phone != "" && phone != unknownPhone {
		p, err := s.repo.FindByPhone(ctx, phone)
		if err == nil || !errors.Is(err, ErrPatientNotFound) {
			return p, err
		}
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrPatientNotFound
	}
	return s.repo.FindByName(ctx, name)
}
