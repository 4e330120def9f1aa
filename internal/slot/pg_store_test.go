package slot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
)

var availabilityColumns = []string{"id", "dentist_id", "date", "time_slots", "created_at", "updated_at"}

func newPgStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func availabilityRow(dentist uuid.UUID, day time.Time, slots string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(availabilityColumns).
		AddRow(uuid.New(), dentist, day, []byte(slots), now, now)
}

func TestPgStoreClaimOK(t *testing.T) {
	store, mock := newPgStore(t)
	ref := Ref{DentistID: uuid.New(), Date: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), Start: "10:00"}

	mock.ExpectExec("UPDATE availability").
		WithArgs(ref.DentistID, ref.Date, ref.Start, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := store.Claim(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, ClaimOK, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreClaimClassifiesMisses(t *testing.T) {
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rows  func(dentist uuid.UUID) *pgxmock.Rows
		noRow bool
		want  ClaimResult
	}{
		{
			name: "slot already taken",
			rows: func(d uuid.UUID) *pgxmock.Rows {
				return availabilityRow(d, day, `[{"start":"10:00","end":"10:30","available":false}]`)
			},
			want: ClaimAlreadyBooked,
		},
		{
			name: "time not in schedule",
			rows: func(d uuid.UUID) *pgxmock.Rows {
				return availabilityRow(d, day, `[{"start":"09:00","end":"09:30","available":true}]`)
			},
			want: ClaimNotFound,
		},
		{
			name:  "no availability for the day",
			noRow: true,
			want:  ClaimNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newPgStore(t)
			ref := Ref{DentistID: uuid.New(), Date: day, Start: "10:00"}

			mock.ExpectExec("UPDATE availability").
				WithArgs(ref.DentistID, ref.Date, ref.Start, false).
				WillReturnResult(pgxmock.NewResult("UPDATE", 0))
			q := mock.ExpectQuery("SELECT id, dentist_id, date, time_slots").
				WithArgs(ref.DentistID, day)
			if tt.noRow {
				q.WillReturnError(pgx.ErrNoRows)
			} else {
				q.WillReturnRows(tt.rows(ref.DentistID))
			}

			res, err := store.Claim(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPgStoreClaimSurfacesTransientErrors(t *testing.T) {
	store, mock := newPgStore(t)
	ref := Ref{DentistID: uuid.New(), Date: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), Start: "10:00"}

	mock.ExpectExec("UPDATE availability").
		WithArgs(ref.DentistID, ref.Date, ref.Start, false).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	_, err := store.Claim(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestPgStoreReleaseAlreadyAvailable(t *testing.T) {
	store, mock := newPgStore(t)
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	ref := Ref{DentistID: uuid.New(), Date: day, Start: "10:00"}

	mock.ExpectExec("UPDATE availability").
		WithArgs(ref.DentistID, ref.Date, ref.Start, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, dentist_id, date, time_slots").
		WithArgs(ref.DentistID, day).
		WillReturnRows(availabilityRow(ref.DentistID, day, `[{"start":"10:00","end":"10:30","available":true}]`))

	ok, err := store.Release(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStorePublish(t *testing.T) {
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	slots := []TimeSlot{{Start: "9:00", End: "9:30", Available: true}}

	t.Run("created", func(t *testing.T) {
		store, mock := newPgStore(t)
		dentist := uuid.New()
		mock.ExpectQuery("INSERT INTO availability").
			WithArgs(pgxmock.AnyArg(), dentist, day, pgxmock.AnyArg()).
			WillReturnRows(availabilityRow(dentist, day, `[{"start":"09:00","end":"09:30","available":true}]`))

		a, err := store.Publish(context.Background(), Availability{DentistID: dentist, Date: day, TimeSlots: slots})
		require.NoError(t, err)
		require.Len(t, a.TimeSlots, 1)
		assert.Equal(t, "09:00", a.TimeSlots[0].Start)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate day", func(t *testing.T) {
		store, mock := newPgStore(t)
		dentist := uuid.New()
		mock.ExpectQuery("INSERT INTO availability").
			WithArgs(pgxmock.AnyArg(), dentist, day, pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Publish(context.Background(), Availability{DentistID: dentist, Date: day, TimeSlots: slots})
		assert.ErrorIs(t, err, ErrAlreadyPublished)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})

	t.Run("unknown dentist", func(t *testing.T) {
		store, mock := newPgStore(t)
		dentist := uuid.New()
		mock.ExpectQuery("INSERT INTO availability").
			WithArgs(pgxmock.AnyArg(), dentist, day, pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		_, err := store.Publish(context.Background(), Availability{DentistID: dentist, Date: day, TimeSlots: slots})
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})
}

func TestPgStoreListHeld(t *testing.T) {
	store, mock := newPgStore(t)
	cutoff := time.Now().Add(-2 * time.Minute)
	dentist := uuid.New()
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT a.dentist_id, a.date").
		WithArgs(cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"dentist_id", "date", "start"}).
			AddRow(dentist, day, "10:00").
			AddRow(dentist, day, "11:00"))

	refs, err := store.ListHeld(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "11:00", refs[1].Start)
	require.NoError(t, mock.ExpectationsWereMet())
}
