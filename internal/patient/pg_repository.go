package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/db"
)

const patientColumns = `id, name, email, phone, date_of_birth, status, next_appointment, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.DateOfBirth,
		&p.Status,
		&p.NextAppointment,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, apperr.FromDB(err)
	}
	return &p, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) FindByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone = $1
	`, strings.TrimSpace(phone))
	return scanPatient(row)
}

func (r *PgRepository) FindByName(ctx context.Context, name string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(name) = lower($1)
		ORDER BY created_at
		LIMIT 1
	`, strings.TrimSpace(name))
	return scanPatient(row)
}

func (r *PgRepository) Create(ctx context.Context, p NewPatient) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, phone, date_of_birth, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (phone) DO NOTHING
		RETURNING `+patientColumns,
		uuid.New(), p.Name, p.Email, p.Phone, p.DateOfBirth, StatusActive)

	created, err := scanPatient(row)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return created, err
}

func (r *PgRepository) SetNextAppointment(ctx context.Context, id uuid.UUID, next *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET next_appointment = $2,
		    updated_at = now()
		WHERE id = $1
		  AND next_appointment IS DISTINCT FROM $2
	`, id, next)
	if err != nil {
		return fmt.Errorf("set next appointment: %w", apperr.FromDB(err))
	}
	return nil
}
