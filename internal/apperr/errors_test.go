package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"not found", fmt.Errorf("%w: appointment", ErrNotFound), KindNotFound},
		{"conflict wrapped twice", fmt.Errorf("create: %w", fmt.Errorf("%w: slot booked", ErrConflict)), KindConflict},
		{"invalid", fmt.Errorf("%w: bad time", ErrInvalid), KindInvalid},
		{"inconsistent", fmt.Errorf("%w: release failed", ErrInconsistent), KindInconsistent},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"connection exception", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestFromDB(t *testing.T) {
	assert.NoError(t, FromDB(nil))

	plain := errors.New("syntax error")
	assert.Same(t, plain, FromDB(plain))

	pgErr := &pgconn.PgError{Code: "40P01"}
	wrapped := FromDB(pgErr)
	assert.True(t, errors.Is(wrapped, ErrTransient))
	assert.True(t, IsTransient(wrapped))

	var target *pgconn.PgError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "40P01", target.Code)

	assert.Same(t, wrapped, FromDB(wrapped))
}
