package patient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patientCols = []string{"id", "name", "email", "phone", "date_of_birth", "status", "next_appointment", "created_at", "updated_at"}

func TestPgCreatePatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPgRepository(mock)

	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	id := uuid.New()

	mock.ExpectQuery("ON CONFLICT \\(phone\\) DO NOTHING").
		WithArgs(pgxmock.AnyArg(), "A", "a@b.c", "555-0100", &dob, StatusActive).
		WillReturnRows(pgxmock.NewRows(patientCols).
			AddRow(id, "A", "a@b.c", "555-0100", &dob, StatusActive, &now, now, now))

	p, err := repo.Create(context.Background(), NewPatient{Name: "A", Email: "a@b.c", Phone: "555-0100", DateOfBirth: &dob})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreatePatientPhoneTaken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPgRepository(mock)

	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), "A", "", "555-0100", pgxmock.AnyArg(), StatusActive).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.Create(context.Background(), NewPatient{Name: "A", Phone: "555-0100"})
	assert.ErrorIs(t, err, ErrPatientNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSetNextAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPgRepository(mock)

	id := uuid.New()
	next := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE patients").
		WithArgs(id, &next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SetNextAppointment(context.Background(), id, &next))
	require.NoError(t, mock.ExpectationsWereMet())
}
