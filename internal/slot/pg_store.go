package slot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/db"
)

type PgStore struct {
	pool db.Querier
}

func NewPgStore(pool db.Querier) *PgStore {
	return &PgStore{pool: pool}
}

// setAvailableSQL flips one slot inside the jsonb array. The subquery finds
// the array position by start time; the outer WHERE re-reads the flag from
// the row being updated, so a writer that waited on the row lock sees the
// committed value and matches nothing.
const setAvailableSQL = `
	UPDATE availability
	SET time_slots = jsonb_set(availability.time_slots, ARRAY[idx.pos::text, 'available'], to_jsonb($4::boolean)),
	    updated_at = now()
	FROM (
		SELECT a.id, (e.ord - 1)::int AS pos
		FROM availability a,
		     jsonb_array_elements(a.time_slots) WITH ORDINALITY AS e(slot, ord)
		WHERE a.dentist_id = $1
		  AND a.date = $2
		  AND e.slot->>'start' = $3
	) AS idx
	WHERE availability.id = idx.id
	  AND COALESCE((availability.time_slots -> idx.pos ->> 'available')::boolean, false) <> $4::boolean
`

func (s *PgStore) Claim(ctx context.Context, ref Ref) (ClaimResult, error) {
	tag, err := s.pool.Exec(ctx, setAvailableSQL, ref.DentistID, ref.Date, ref.Start, false)
	if err != nil {
		return ClaimNotFound, fmt.Errorf("claim slot: %w", apperr.FromDB(err))
	}
	if tag.RowsAffected() == 1 {
		return ClaimOK, nil
	}

	check, err := s.Check(ctx, ref)
	if err != nil {
		return ClaimNotFound, err
	}
	if check == CheckNotConfigured || check == CheckNotInSchedule {
		return ClaimNotFound, nil
	}
	return ClaimAlreadyBooked, nil
}

func (s *PgStore) Release(ctx context.Context, ref Ref) (bool, error) {
	tag, err := s.pool.Exec(ctx, setAvailableSQL, ref.DentistID, ref.Date, ref.Start, true)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", apperr.FromDB(err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	check, err := s.Check(ctx, ref)
	if err != nil {
		return false, err
	}
	return check == CheckAvailable, nil
}

func (s *PgStore) Check(ctx context.Context, ref Ref) (CheckResult, error) {
	a, err := s.Get(ctx, ref.DentistID, ref.Date)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return CheckNotConfigured, nil
		}
		return CheckNotConfigured, err
	}
	return checkSlots(a, ref.Start), nil
}

func (s *PgStore) Get(ctx context.Context, dentistID uuid.UUID, date time.Time) (*Availability, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, dentist_id, date, time_slots, created_at, updated_at
		FROM availability
		WHERE dentist_id = $1 AND date = $2
	`, dentistID, DateOnly(date))
	return scanAvailability(row)
}

func (s *PgStore) Publish(ctx context.Context, a Availability) (*Availability, error) {
	slots, err := NormalizeSlots(a.TimeSlots)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("encode time slots: %w", err)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO availability (id, dentist_id, date, time_slots, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, now(), now())
		ON CONFLICT (dentist_id, date) DO NOTHING
		RETURNING id, dentist_id, date, time_slots, created_at, updated_at
	`, a.ID, a.DentistID, DateOnly(a.Date), raw)

	created, err := scanAvailability(row)
	if errors.Is(err, ErrNotConfigured) {
		return nil, ErrAlreadyPublished
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return nil, fmt.Errorf("%w: dentist %s", apperr.ErrNotFound, a.DentistID)
	}
	return created, err
}

func (s *PgStore) ListHeld(ctx context.Context, updatedBefore time.Time) ([]Ref, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.dentist_id, a.date, e.slot->>'start'
		FROM availability a,
		     jsonb_array_elements(a.time_slots) AS e(slot)
		WHERE a.updated_at < $1
		  AND NOT COALESCE((e.slot->>'available')::boolean, false)
		ORDER BY a.date, a.dentist_id
	`, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", apperr.FromDB(err))
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.DentistID, &r.Date, &r.Start); err != nil {
			return nil, err
		}
		r.Date = DateOnly(r.Date)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list held slots: %w", apperr.FromDB(err))
	}
	return refs, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var raw []byte

	err := row.Scan(
		&a.ID,
		&a.DentistID,
		&a.Date,
		&raw,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, apperr.FromDB(err)
	}

	if err := json.Unmarshal(raw, &a.TimeSlots); err != nil {
		return nil, fmt.Errorf("decode time slots for availability %s: %w", a.ID, err)
	}
	a.Date = DateOnly(a.Date)
	return &a, nil
}
