package appointment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/db"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

const (
	activeSlotIndex      = "appointments_active_slot_uidx"
	idempotencyKeyUnique = "appointments_idempotency_key_key"
)

const appointmentColumns = `id, patient_name, phone, dentist_id, appointment_date, appointment_time,
	treatment, status, notes, idempotency_key, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientName,
		&a.Phone,
		&a.DentistID,
		&a.Date,
		&a.StartTime,
		&a.Treatment,
		&status,
		&a.Notes,
		&a.IdempotencyKey,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, mapWriteError(err)
	}

	a.Status = Status(status)
	a.Date = slot.DateOnly(a.Date)
	return &a, nil
}

func scanDentist(row pgx.Row) (*Dentist, error) {
	var d Dentist
	if err := row.Scan(&d.ID, &d.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDentistNotFound
		}
		return nil, apperr.FromDB(err)
	}
	return &d, nil
}

// mapWriteError turns unique violations on the ledger's constraints into
// domain errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotIndex:
			return ErrSlotAlreadyBooked
		case pgErr.Code == "23505" && pgErr.ConstraintName == idempotencyKeyUnique:
			return ErrDuplicateIdempotencyKey
		case pgErr.Code == "23503":
			return ErrDentistNotFound
		}
	}
	return apperr.FromDB(err)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func statusArg(s *Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

var honorific = regexp.MustCompile(`^dr\.?\s+`)

func stripHonorific(name string) string {
	return honorific.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "")
}

// Interface methods

func (r *PgRepository) GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name
		FROM dentists
		WHERE id = $1
	`, id)
	return scanDentist(row)
}

func (r *PgRepository) FindDentistByName(ctx context.Context, name string) (*Dentist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrDentistNotFound
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, name
		FROM dentists
		WHERE lower(name) = lower($1)
		   OR regexp_replace(lower(name), '^dr\.?\s+', '') = $2
		ORDER BY (lower(name) = lower($1)) DESC, name
		LIMIT 1
	`, name, stripHonorific(name))
	return scanDentist(row)
}

func (r *PgRepository) Insert(ctx context.Context, d Draft) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_name, phone, dentist_id, appointment_date, appointment_time,
			treatment, status, notes, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		id, d.PatientName, d.Phone, d.DentistID, d.Date, d.StartTime,
		d.Treatment, string(d.Status), d.Notes, nullableString(d.IdempotencyKey))

	a, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateFields(ctx context.Context, id uuid.UUID, p Patch) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET patient_name     = COALESCE($2, patient_name),
		    phone            = COALESCE($3, phone),
		    dentist_id       = COALESCE($4, dentist_id),
		    appointment_date = COALESCE($5, appointment_date),
		    appointment_time = COALESCE($6, appointment_time),
		    treatment        = COALESCE($7, treatment),
		    status           = COALESCE($8, status),
		    notes            = COALESCE($9, notes),
		    updated_at       = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, p.PatientName, p.Phone, p.DentistID, p.Date, p.StartTime,
		p.Treatment, statusArg(p.Status), p.Notes)

	a, err := scanAppointment(row)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return a, err
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		RETURNING `+appointmentColumns, id)
	return scanAppointment(row)
}

func (r *PgRepository) Search(ctx context.Context, f Filter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Patient != "" {
		add("patient_name ILIKE ?", "%"+f.Patient+"%")
	}
	if f.DentistID != nil {
		add("dentist_id = ?", *f.DentistID)
	}
	if f.DateFrom != nil {
		add("appointment_date >= ?", slot.DateOnly(*f.DateFrom))
	}
	if f.DateTo != nil {
		add("appointment_date <= ?", slot.DateOnly(*f.DateTo))
	}
	if f.Status != nil {
		add("status = ?", string(*f.Status))
	}
	if f.Treatment != "" {
		add("treatment ILIKE ?", "%"+f.Treatment+"%")
	}
	where := "TRUE"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+where+`
		ORDER BY appointment_date, appointment_time`, args...)
	if err != nil {
		return nil, fmt.Errorf("search appointments: %w", apperr.FromDB(err))
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search appointments: %w", apperr.FromDB(err))
	}

	return result, nil
}

func (r *PgRepository) FindActiveConflict(ctx context.Context, ref slot.Ref, excludeID *uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE dentist_id = $1
		  AND appointment_date = $2
		  AND appointment_time = $3
		  AND status = 'confirmed'
		  AND ($4::uuid IS NULL OR id <> $4)
		LIMIT 1
	`, ref.DentistID, slot.DateOnly(ref.Date), ref.Start, excludeID)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find slot conflict: %w", err)
	}
	return a, nil
}

func (r *PgRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE idempotency_key = $1
	`, key)
	return scanAppointment(row)
}

func (r *PgRepository) EarliestBookedDate(ctx context.Context, phone, name string) (*time.Time, error) {
	if phone == UnknownPhone {
		phone = ""
	}
	var earliest *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MIN(appointment_date)
		FROM appointments
		WHERE status = 'confirmed'
		  AND (($1 <> '' AND phone = $1) OR ($2 <> '' AND lower(patient_name) = lower($2)))
	`, phone, strings.TrimSpace(name)).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("earliest booked date: %w", apperr.FromDB(err))
	}
	if earliest != nil {
		d := slot.DateOnly(*earliest)
		earliest = &d
	}
	return earliest, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
